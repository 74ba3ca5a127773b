package did

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gotrust "github.com/sirosfoundation/go-trust/pkg/authzen"
	"github.com/sirosfoundation/go-trust/pkg/authzenclient"
	"github.com/tidwall/gjson"
)

// ErrNotResolvable is returned when a resolver cannot produce a document for a DID
var ErrNotResolvable = errors.New("DID could not be resolved")

// Resolver resolves a DID to its document
type Resolver interface {
	Resolve(ctx context.Context, did string) (*Document, error)
}

// HTTPResolver resolves DIDs through a universal-resolver style HTTP endpoint:
// GET {baseURL}/{did}. Both bare documents and resolution results wrapping the
// document in "didDocument" are accepted.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPResolver creates a resolver for the given base URL
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	if !strings.HasPrefix(did, "did:") {
		return nil, fmt.Errorf("%w: %q is not a DID", ErrNotResolvable, did)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+url.PathEscape(did), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution request: %w", err)
	}
	req.Header.Set("Accept", "application/did+ld+json, application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call DID resolver: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read DID resolver response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotResolvable, did)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DID resolver returned status %d", resp.StatusCode)
	}

	if wrapped := gjson.GetBytes(body, "didDocument"); wrapped.IsObject() {
		body = []byte(wrapped.Raw)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode DID document: %w", err)
	}
	if doc.ID != did {
		return nil, fmt.Errorf("%w: resolver returned document for %q", ErrNotResolvable, doc.ID)
	}
	return &doc, nil
}

// AuthZENResolver resolves DIDs through a go-trust policy decision point. The
// PDP returns the DID document as trust metadata of a resolution-only request.
type AuthZENResolver struct {
	client interface {
		Resolve(ctx context.Context, subjectID string) (*gotrust.EvaluationResponse, error)
	}
}

// NewAuthZENResolver creates a resolver backed by the PDP at baseURL
func NewAuthZENResolver(baseURL string, timeout time.Duration) *AuthZENResolver {
	return &AuthZENResolver{
		client: authzenclient.New(baseURL, authzenclient.WithTimeout(timeout)),
	}
}

func (r *AuthZENResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	resp, err := r.client.Resolve(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("AuthZEN resolution failed: %w", err)
	}
	if !resp.Decision || resp.Context == nil || resp.Context.TrustMetadata == nil {
		reason := "no trust metadata"
		if resp.Context != nil {
			if msg, ok := resp.Context.Reason["error"].(string); ok {
				reason = msg
			}
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrNotResolvable, did, reason)
	}

	data, err := json.Marshal(resp.Context.TrustMetadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trust metadata: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode DID document: %w", err)
	}
	if doc.ID == "" {
		doc.ID = did
	}
	return &doc, nil
}
