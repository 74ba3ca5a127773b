package mongodb

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

const (
	requestsCollection    = "holder_credential_requests"
	credentialsCollection = "credentials"
)

// Store implements MongoDB storage
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	cfg      *config.MongoDBConfig

	requests    *HolderRequestStore
	credentials *CredentialStore
}

// NewStore creates a new MongoDB store. Connecting is retried with
// exponential backoff up to cfg.ConnectRetries times.
func NewStore(ctx context.Context, cfg *config.MongoDBConfig, leaseDuration time.Duration) (*Store, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	var client *mongo.Client
	connect := func() error {
		c, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := c.Ping(ctx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		client = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(cfg.ConnectRetries, 0))), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, err
	}

	if leaseDuration <= 0 {
		leaseDuration = storage.DefaultLeaseDuration
	}

	database := client.Database(cfg.Database)
	clock := clockwork.NewRealClock()

	s := &Store{
		client:   client,
		database: database,
		cfg:      cfg,
	}

	s.requests = &HolderRequestStore{
		collection:    database.Collection(requestsCollection),
		holder:        leaseHolderName(),
		leaseDuration: leaseDuration,
		clock:         clock,
	}
	s.credentials = &CredentialStore{collection: database.Collection(credentialsCollection), clock: clock}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.requests.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "state_timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "participant_context_id", Value: 1}}},
		{Keys: bson.D{{Key: "lease.expires_at", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create request indexes: %w", err)
	}

	_, err = s.credentials.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participant_context_id", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create credential indexes: %w", err)
	}

	return nil
}

func (s *Store) HolderRequests() storage.HolderRequestStore { return s.requests }
func (s *Store) Credentials() storage.CredentialStore       { return s.credentials }

// RunInTx runs fn inside a MongoDB session transaction. The store must be
// backed by a replica set or sharded cluster for transactions to be available.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func leaseHolderName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + uuid.NewString()
}
