package server

import (
	"github.com/gin-gonic/gin"

	"github.com/sirosfoundation/go-dcp-holder/internal/api"
)

// HolderProvider provides the participant API and the DCP delivery endpoint
type HolderProvider struct {
	handlers   *api.Handlers
	issuerAuth gin.HandlerFunc
}

// NewHolderProvider creates a new holder route provider. issuerAuth guards
// credential delivery by issuers.
func NewHolderProvider(handlers *api.Handlers, issuerAuth gin.HandlerFunc) *HolderProvider {
	return &HolderProvider{
		handlers:   handlers,
		issuerAuth: issuerAuth,
	}
}

func (p *HolderProvider) Name() string { return "holder" }

func (p *HolderProvider) RegisterRoutes(router *gin.Engine) {
	p.handlers.RegisterRoutes(router.Group("/api/v1"), p.issuerAuth)
}
