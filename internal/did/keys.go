package did

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v3"
)

// ErrKeyNotFound is returned when a document has no usable key for a key id
var ErrKeyNotFound = errors.New("verification key not found in DID document")

// PublicKey returns the JWK-encoded key of the verification method named by
// kid. kid may be a full DID URL, a "#fragment" or a bare fragment. An empty
// kid selects the only JWK key of the document.
func (d *Document) PublicKey(kid string) (crypto.PublicKey, error) {
	if i := strings.IndexByte(kid, '#'); i > 0 && kid[:i] != d.ID {
		return nil, fmt.Errorf("%w: %s belongs to another DID", ErrKeyNotFound, kid)
	}

	var found []VerificationMethod
	for _, vm := range d.VerificationMethod {
		if len(vm.PublicKeyJwk) == 0 {
			continue
		}
		if kid == "" || fragment(vm.ID) == fragment(kid) {
			found = append(found, vm)
		}
	}
	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	case len(found) > 1:
		return nil, fmt.Errorf("%w: %q matches %d keys", ErrKeyNotFound, kid, len(found))
	}

	data, err := json.Marshal(found[0].PublicKeyJwk)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", found[0].ID, err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", found[0].ID, err)
	}
	if !jwk.Valid() || !jwk.IsPublic() {
		return nil, fmt.Errorf("%s is not a public key", found[0].ID)
	}
	return jwk.Key, nil
}

func fragment(id string) string {
	if i := strings.LastIndexByte(id, '#'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// KeyResolver looks up issuer verification keys in resolved DID documents
type KeyResolver struct {
	resolver Resolver
}

// NewKeyResolver creates a KeyResolver backed by r
func NewKeyResolver(r Resolver) *KeyResolver {
	return &KeyResolver{resolver: r}
}

// IssuerKey resolves issuerDID and returns its key named by keyID
func (k *KeyResolver) IssuerKey(ctx context.Context, issuerDID, keyID string) (crypto.PublicKey, error) {
	doc, err := k.resolver.Resolve(ctx, issuerDID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", issuerDID, err)
	}
	return doc.PublicKey(keyID)
}

// NewJWKVerificationMethod encodes key as a JsonWebKey2020 verification
// method of the controller DID
func NewJWKVerificationMethod(id, controller string, key crypto.PublicKey) (VerificationMethod, error) {
	data, err := jose.JSONWebKey{Key: key}.MarshalJSON()
	if err != nil {
		return VerificationMethod{}, fmt.Errorf("encoding key %s: %w", id, err)
	}
	var jwk map[string]any
	if err := json.Unmarshal(data, &jwk); err != nil {
		return VerificationMethod{}, err
	}
	return VerificationMethod{ID: id, Type: "JsonWebKey2020", Controller: controller, PublicKeyJwk: jwk}, nil
}
