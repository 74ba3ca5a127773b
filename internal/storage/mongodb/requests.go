package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

type leaseDocument struct {
	Token     string    `bson:"token"`
	Holder    string    `bson:"holder"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type requestDocument struct {
	domain.HolderCredentialRequest `bson:",inline"`
	Lease                          *leaseDocument `bson:"lease,omitempty"`
}

// request returns the stored request carrying the token of its lease
func (d *requestDocument) request() *domain.HolderCredentialRequest {
	req := d.HolderCredentialRequest
	if d.Lease != nil {
		req.LeaseToken = d.Lease.Token
	}
	return &req
}

// HolderRequestStore implements MongoDB holder credential request storage.
// Leases are a sub-document updated with single-document atomic operations;
// writes compare the version and lease token they were read with.
type HolderRequestStore struct {
	collection    *mongo.Collection
	holder        string
	leaseDuration time.Duration
	clock         clockwork.Clock
}

func (s *HolderRequestStore) newLease(token string) *leaseDocument {
	if token == "" {
		token = uuid.NewString()
	}
	return &leaseDocument{Token: token, Holder: s.holder, ExpiresAt: s.clock.Now().Add(s.leaseDuration)}
}

// available matches documents that are not leased or whose lease has expired
func (s *HolderRequestStore) available() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"lease": nil},
		bson.M{"lease.expires_at": bson.M{"$lte": s.clock.Now()}},
	}}
}

// owned matches documents req may write: those still holding the lease req
// was read under, or, for an unleased snapshot, those with no active lease.
func (s *HolderRequestStore) owned(req *domain.HolderCredentialRequest) bson.M {
	if req.LeaseToken != "" {
		return bson.M{"lease.token": req.LeaseToken}
	}
	return s.available()
}

func (s *HolderRequestStore) Create(ctx context.Context, req *domain.HolderCredentialRequest) error {
	row := *req
	row.LeaseToken = ""
	_, err := s.collection.InsertOne(ctx, requestDocument{HolderCredentialRequest: row})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create holder request: %w", err)
	}
	return nil
}

func (s *HolderRequestStore) FindByID(ctx context.Context, id string) (*domain.HolderCredentialRequest, error) {
	var doc requestDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get holder request: %w", err)
	}
	return &doc.HolderCredentialRequest, nil
}

func (s *HolderRequestStore) FindByIDAndLease(ctx context.Context, id string) (*domain.HolderCredentialRequest, error) {
	filter := bson.M{"_id": id, "$and": bson.A{s.available()}}
	update := bson.M{"$set": bson.M{"lease": s.newLease("")}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc requestDocument
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.missingOrLeased(ctx, id)
		}
		return nil, fmt.Errorf("failed to lease holder request: %w", err)
	}
	return doc.request(), nil
}

func (s *HolderRequestStore) NextNotLeased(ctx context.Context, limit int, criteria ...storage.Criterion) ([]*domain.HolderCredentialRequest, error) {
	filter, err := toFilter(criteria)
	if err != nil {
		return nil, err
	}
	filter["$and"] = bson.A{s.available()}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "state_timestamp", Value: 1}}).
		SetReturnDocument(options.After)

	// each FindOneAndUpdate is atomic, so concurrent callers never lease the same document
	result := make([]*domain.HolderCredentialRequest, 0, limit)
	for len(result) < limit {
		var doc requestDocument
		err := s.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"lease": s.newLease("")}}, opts).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}
			return result, fmt.Errorf("failed to lease holder requests: %w", err)
		}
		result = append(result, doc.request())
	}
	return result, nil
}

func (s *HolderRequestStore) Update(ctx context.Context, req *domain.HolderCredentialRequest) error {
	return s.replace(ctx, req, s.newLease(req.LeaseToken))
}

func (s *HolderRequestStore) Save(ctx context.Context, req *domain.HolderCredentialRequest) error {
	return s.replace(ctx, req, nil)
}

func (s *HolderRequestStore) replace(ctx context.Context, req *domain.HolderCredentialRequest, lease *leaseDocument) error {
	filter := bson.M{"_id": req.ID, "version": req.Version, "$and": bson.A{s.owned(req)}}
	row := *req
	row.Version++
	row.LeaseToken = ""

	result, err := s.collection.ReplaceOne(ctx, filter, requestDocument{HolderCredentialRequest: row, Lease: lease})
	if err != nil {
		return fmt.Errorf("failed to save holder request: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.rejected(ctx, req)
	}

	req.Version = row.Version
	if lease != nil {
		req.LeaseToken = lease.Token
	}
	return nil
}

func (s *HolderRequestStore) BreakLease(ctx context.Context, req *domain.HolderCredentialRequest) error {
	filter := bson.M{"_id": req.ID, "$and": bson.A{s.owned(req)}}
	result, err := s.collection.UpdateOne(ctx, filter, bson.M{"$unset": bson.M{"lease": ""}})
	if err != nil {
		return fmt.Errorf("failed to break lease: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.missingOrLeased(ctx, req.ID)
	}
	return nil
}

func (s *HolderRequestStore) missingOrLeased(ctx context.Context, id string) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to get holder request: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrLeased
}

// rejected explains why a conditional write of req matched nothing
func (s *HolderRequestStore) rejected(ctx context.Context, req *domain.HolderCredentialRequest) error {
	current, err := s.FindByID(ctx, req.ID)
	if err != nil {
		return err
	}
	if current.Version != req.Version {
		return storage.ErrStale
	}
	return storage.ErrLeased
}

var criterionFields = map[string]string{
	storage.FieldState:       "state",
	storage.FieldParticipant: "participant_context_id",
	storage.FieldIssuerDID:   "issuer_did",
}

func toFilter(criteria []storage.Criterion) (bson.M, error) {
	filter := bson.M{}
	for _, c := range criteria {
		field, ok := criterionFields[c.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported criterion %s", storage.ErrInvalidInput, c)
		}
		switch c.Operator {
		case storage.OpEqual:
			filter[field] = c.Value
		case storage.OpIn:
			filter[field] = bson.M{"$in": c.Value}
		default:
			return nil, fmt.Errorf("%w: unsupported operator %s", storage.ErrInvalidInput, c)
		}
	}
	return filter, nil
}
