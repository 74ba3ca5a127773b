package backend

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage/memory"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage/mongodb"
	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory uses in-memory storage (for testing/development)
	TypeMemory Type = "memory"
	// TypeMongoDB uses MongoDB storage (for production)
	TypeMongoDB Type = "mongodb"
)

// Backend wraps storage stores with a common interface for lifecycle management
type Backend interface {
	storage.Store

	// Type reports which storage implementation is in use
	Type() Type
}

// memoryBackend wraps the memory store to implement Backend
type memoryBackend struct {
	*memory.Store
}

func (b *memoryBackend) Type() Type { return TypeMemory }

// mongoBackend wraps the MongoDB store to implement Backend
type mongoBackend struct {
	*mongodb.Store
}

func (b *mongoBackend) Type() Type { return TypeMongoDB }

// New creates a storage backend based on the configuration. Leases taken by
// the returned store last for the configured polling lease duration.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	storageType := Type(cfg.Storage.Type)
	leaseDuration := cfg.Polling.LeaseDuration()
	if leaseDuration <= 0 {
		leaseDuration = storage.DefaultLeaseDuration
	}

	switch storageType {
	case TypeMemory, "":
		// Default to memory if not specified
		store := memory.NewStore(memory.WithLeaseDuration(leaseDuration))
		return &memoryBackend{Store: store}, nil

	case TypeMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB, leaseDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		return &mongoBackend{Store: store}, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
