package sts

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

// ErrUnknownParticipant is returned for participant context ids that are not configured
var ErrUnknownParticipant = errors.New("unknown participant context")

// Participant is a local holder identity
type Participant struct {
	ContextID string
	DID       string
	KeyID     string
	Key       *ecdsa.PrivateKey
}

// ParticipantRegistry looks up participant contexts
type ParticipantRegistry interface {
	Get(ctx context.Context, participantContextID string) (*Participant, error)
}

// StaticRegistry is a ParticipantRegistry built once from configuration
type StaticRegistry struct {
	participants map[string]*Participant
}

// NewStaticRegistry creates a registry from explicit participants
func NewStaticRegistry(participants ...*Participant) *StaticRegistry {
	r := &StaticRegistry{participants: make(map[string]*Participant, len(participants))}
	for _, p := range participants {
		r.participants[p.ContextID] = p
	}
	return r
}

// LoadRegistry builds a registry from the participant configuration. A
// participant without a key file gets an ephemeral P-256 key, which is only
// useful for development since issuers cannot verify it across restarts.
func LoadRegistry(cfgs []config.ParticipantConfig, logger *zap.Logger) (*StaticRegistry, error) {
	logger = logger.Named("participants")

	participants := make([]*Participant, 0, len(cfgs))
	for _, pc := range cfgs {
		var (
			key *ecdsa.PrivateKey
			err error
		)
		if pc.PrivateKeyPath != "" {
			key, err = loadPrivateKey(pc.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("participant %s: %w", pc.ID, err)
			}
		} else {
			key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			if err != nil {
				return nil, fmt.Errorf("participant %s: failed to generate key: %w", pc.ID, err)
			}
			logger.Warn("No private key configured, using ephemeral key", zap.String("participant", pc.ID))
		}

		keyID := pc.KeyID
		if keyID == "" {
			keyID = pc.DID + "#key-1"
		}
		participants = append(participants, &Participant{
			ContextID: pc.ID,
			DID:       pc.DID,
			KeyID:     keyID,
			Key:       key,
		})
	}

	logger.Info("Loaded participant contexts", zap.Int("count", len(participants)))
	return NewStaticRegistry(participants...), nil
}

func (r *StaticRegistry) Get(ctx context.Context, participantContextID string) (*Participant, error) {
	p, ok := r.participants[participantContextID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantContextID)
	}
	return p, nil
}

func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8
		pkcs8Key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, err
		}
		var ok bool
		key, ok = pkcs8Key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an ECDSA private key")
		}
	}
	return key, nil
}
