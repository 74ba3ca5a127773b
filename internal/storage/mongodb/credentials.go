package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

// CredentialStore implements MongoDB credential storage
type CredentialStore struct {
	collection *mongo.Collection
	clock      clockwork.Clock
}

func (s *CredentialStore) Create(ctx context.Context, res *domain.VerifiableCredentialResource) error {
	if res.ID == "" {
		return storage.ErrInvalidInput
	}

	now := s.clock.Now()
	res.CreatedAt = now
	res.UpdatedAt = now

	_, err := s.collection.InsertOne(ctx, res)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*domain.VerifiableCredentialResource, error) {
	var res domain.VerifiableCredentialResource
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &res, nil
}

func (s *CredentialStore) ListByParticipant(ctx context.Context, participantContextID string) ([]*domain.VerifiableCredentialResource, error) {
	return s.find(ctx, bson.M{"participant_context_id": participantContextID})
}

func (s *CredentialStore) ListByStatus(ctx context.Context, statuses ...domain.VcStatus) ([]*domain.VerifiableCredentialResource, error) {
	return s.find(ctx, bson.M{"state": bson.M{"$in": statuses}})
}

func (s *CredentialStore) find(ctx context.Context, filter bson.M) ([]*domain.VerifiableCredentialResource, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var result []*domain.VerifiableCredentialResource
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return result, nil
}

func (s *CredentialStore) Update(ctx context.Context, res *domain.VerifiableCredentialResource) error {
	res.UpdatedAt = s.clock.Now()
	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": res.ID}, res)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}
