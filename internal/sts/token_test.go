package sts

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

func newParticipant(t *testing.T) *Participant {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &Participant{ContextID: "p1", DID: "did:web:holder", KeyID: "did:web:holder#key-1", Key: key}
}

func parse(t *testing.T, token string, key *ecdsa.PrivateKey, now time.Time) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	return parsed, claims
}

func TestTokenService_SelfIssued(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	participant := newParticipant(t)
	svc := NewTokenService(NewStaticRegistry(participant), clock, 0)

	tok, err := svc.SelfIssued(context.Background(), "p1", "did:web:issuer")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(5*time.Minute).Unix(), tok.ExpiresAt.Unix())

	parsed, claims := parse(t, tok.Token, participant.Key, clock.Now())
	assert.Equal(t, "did:web:holder#key-1", parsed.Header["kid"])
	assert.Equal(t, "did:web:holder", claims["iss"])
	assert.Equal(t, "did:web:holder", claims["sub"])
	assert.Equal(t, "did:web:issuer", claims["aud"])
	assert.NotEmpty(t, claims["jti"])
	assert.NotContains(t, claims, "scope")
}

func TestTokenService_CreateToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	participant := newParticipant(t)
	svc := NewTokenService(NewStaticRegistry(participant), clock, time.Minute)

	claims := map[string]any{"aud": "x"}
	tok, err := svc.CreateToken(context.Background(), "p1", claims, "read")
	require.NoError(t, err)
	assert.NotContains(t, claims, "jti", "caller claims are not modified")

	_, parsed := parse(t, tok.Token, participant.Key, clock.Now())
	assert.Equal(t, "read", parsed["scope"])
	assert.Equal(t, clock.Now().Add(time.Minute).Unix(), tok.ExpiresAt.Unix())

	explicit := clock.Now().Add(time.Hour)
	tok, err = svc.CreateToken(context.Background(), "p1", map[string]any{"exp": explicit.Unix()}, "")
	require.NoError(t, err)
	assert.Equal(t, explicit.Unix(), tok.ExpiresAt.Unix())

	_, err = svc.CreateToken(context.Background(), "unknown", nil, "")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestLoadRegistry(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	registry, err := LoadRegistry([]config.ParticipantConfig{
		{ID: "p1", DID: "did:web:holder", PrivateKeyPath: path},
		{ID: "p2", DID: "did:web:other", KeyID: "did:web:other#k"},
	}, zap.NewNop())
	require.NoError(t, err)

	p1, err := registry.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, p1.Key.Equal(key))
	assert.Equal(t, "did:web:holder#key-1", p1.KeyID)

	p2, err := registry.Get(context.Background(), "p2")
	require.NoError(t, err)
	assert.NotNil(t, p2.Key)
	assert.Equal(t, "did:web:other#k", p2.KeyID)

	_, err = LoadRegistry([]config.ParticipantConfig{{ID: "p3", PrivateKeyPath: filepath.Join(t.TempDir(), "missing.pem")}}, zap.NewNop())
	assert.Error(t, err)
}
