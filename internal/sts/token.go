// Package sts mints the self-issued bearer tokens a holder presents to
// credential issuers.
package sts

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultTokenTTL is the lifetime of a self-issued token
const DefaultTokenTTL = 5 * time.Minute

// TokenRepresentation is a signed token and its expiry
type TokenRepresentation struct {
	Token     string
	ExpiresAt time.Time
}

// TokenService signs tokens on behalf of participant contexts
type TokenService struct {
	participants ParticipantRegistry
	clock        clockwork.Clock
	ttl          time.Duration
}

// NewTokenService creates a TokenService. A zero ttl means DefaultTokenTTL.
func NewTokenService(participants ParticipantRegistry, clock clockwork.Clock, ttl time.Duration) *TokenService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{participants: participants, clock: clock, ttl: ttl}
}

// SelfIssuedClaims returns the claims of a token the holder issues about itself
// for the given audience.
func SelfIssuedClaims(ownDID, audience string, now time.Time, ttl time.Duration) map[string]any {
	return map[string]any{
		"iss": ownDID,
		"sub": ownDID,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}

// CreateToken signs claims with the participant's key. jti, iat and exp are
// filled in when absent; scope is added when not empty.
func (s *TokenService) CreateToken(ctx context.Context, participantContextID string, claims map[string]any, scope string) (*TokenRepresentation, error) {
	participant, err := s.participants.Get(ctx, participantContextID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	mc := jwt.MapClaims(maps.Clone(claims))
	if mc == nil {
		mc = jwt.MapClaims{}
	}
	if _, ok := mc["jti"]; !ok {
		mc["jti"] = uuid.New().String()
	}
	if _, ok := mc["iat"]; !ok {
		mc["iat"] = now.Unix()
	}
	if _, ok := mc["exp"]; !ok {
		mc["exp"] = now.Add(s.ttl).Unix()
	}
	if scope != "" {
		mc["scope"] = scope
	}

	exp, ok := unixTime(mc["exp"])
	if !ok {
		return nil, fmt.Errorf("invalid exp claim: %v", mc["exp"])
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, mc)
	token.Header["kid"] = participant.KeyID

	signed, err := token.SignedString(participant.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &TokenRepresentation{Token: signed, ExpiresAt: exp}, nil
}

// SelfIssued mints a token for audience with iss and sub set to the
// participant's DID.
func (s *TokenService) SelfIssued(ctx context.Context, participantContextID, audience string) (*TokenRepresentation, error) {
	participant, err := s.participants.Get(ctx, participantContextID)
	if err != nil {
		return nil, err
	}
	return s.CreateToken(ctx, participantContextID, SelfIssuedClaims(participant.DID, audience, s.clock.Now(), s.ttl), "")
}

func unixTime(v any) (time.Time, bool) {
	switch n := v.(type) {
	case int64:
		return time.Unix(n, 0), true
	case int:
		return time.Unix(int64(n), 0), true
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		i, err := n.Int64()
		return time.Unix(i, 0), err == nil
	}
	return time.Time{}, false
}
