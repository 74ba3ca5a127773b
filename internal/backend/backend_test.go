package backend

import (
	"context"
	"testing"
	"time"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

func TestNew_MemoryBackend(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type: "memory",
		},
	}

	backend, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = backend.Close() }()

	if backend.Type() != TypeMemory {
		t.Errorf("expected memory backend, got %s", backend.Type())
	}
	if backend.HolderRequests() == nil {
		t.Error("expected HolderRequests() to return non-nil store")
	}
	if backend.Credentials() == nil {
		t.Error("expected Credentials() to return non-nil store")
	}
	if err := backend.Ping(context.Background()); err != nil {
		t.Errorf("expected ping to succeed, got %v", err)
	}
}

func TestNew_DefaultToMemory(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type: "", // Empty should default to memory
		},
	}

	backend, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error for empty type, got %v", err)
	}
	defer func() { _ = backend.Close() }()

	// Should be able to use the backend
	ctx := context.Background()
	req := &domain.HolderCredentialRequest{
		ID:                   "req-1",
		ParticipantContextID: "p1",
		IssuerDID:            "did:web:issuer",
		State:                domain.RequestStateCreated,
		StateTimestamp:       time.Now(),
	}
	if err := backend.HolderRequests().Create(ctx, req); err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}
	if _, err := backend.HolderRequests().FindByID(ctx, "req-1"); err != nil {
		t.Errorf("expected to find created request, got %v", err)
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type: "unsupported",
		},
	}

	_, err := New(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unsupported storage type")
	}
}

func TestNew_MongoDBWithInvalidURI(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type: "mongodb",
			MongoDB: config.MongoDBConfig{
				URI:      "mongodb://invalid-host-that-does-not-exist:27017",
				Database: "test",
				Timeout:  1, // Short timeout for faster test failure
			},
		},
	}

	_, err := New(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for invalid MongoDB URI")
	}
}

func TestMemoryBackend_Close(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type: "memory",
		},
	}

	backend, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Close should not return an error for memory backend
	if err := backend.Close(); err != nil {
		t.Errorf("expected no error on Close(), got %v", err)
	}
}
