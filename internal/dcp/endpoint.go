package dcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-dcp-holder/internal/did"
)

// Service types under which issuers publish their credential request endpoint
const (
	ServiceTypeIssuer            = "IssuerService"
	ServiceTypeCredentialRequest = "CredentialRequestService"
)

// EndpointResolver finds an issuer's credential request endpoint in its DID document
type EndpointResolver struct {
	resolver did.Resolver
}

// NewEndpointResolver creates an EndpointResolver
func NewEndpointResolver(resolver did.Resolver) *EndpointResolver {
	return &EndpointResolver{resolver: resolver}
}

// Resolve returns the service endpoint without a trailing slash
func (r *EndpointResolver) Resolve(ctx context.Context, issuerDID string) (string, error) {
	doc, err := r.resolver.Resolve(ctx, issuerDID)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", issuerDID, err)
	}

	svc, err := doc.FindService(ServiceTypeIssuer, ServiceTypeCredentialRequest)
	if err != nil {
		return "", fmt.Errorf("%s: %w", issuerDID, err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(svc.ServiceEndpoint), "/")
	if endpoint == "" {
		return "", fmt.Errorf("%s: %w", issuerDID, did.ErrServiceNotFound)
	}
	return endpoint, nil
}
