package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/dcp"
	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/service"
	"github.com/sirosfoundation/go-dcp-holder/pkg/middleware"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	services *service.Services
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services *service.Services, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger.Named("handlers"),
	}
}

// InitiateRequestBody asks the holder to request credentials from an issuer
type InitiateRequestBody struct {
	IssuerDID   string                       `json:"issuerDid" binding:"required"`
	HolderPID   string                       `json:"holderPid"`
	Credentials []domain.RequestedCredential `json:"credentials" binding:"required,min=1"`
}

// InitiateRequestResponse carries the holder pid of the created request
type InitiateRequestResponse struct {
	HolderPID string `json:"holderPid"`
}

// CredentialStatusResponse is the freshly evaluated status of a credential
type CredentialStatusResponse struct {
	ID     string          `json:"id"`
	Status domain.VcStatus `json:"status"`
}

// InitiateRequest creates a holder credential request for the participant
func (h *Handlers) InitiateRequest(c *gin.Context) {
	participantID := c.Param("participantContextId")

	var body InitiateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	holderPID, err := h.services.Requests.Initiate(c.Request.Context(), participantID, body.IssuerDID, body.HolderPID, body.Credentials)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Location", c.Request.URL.Path+"/"+holderPID)
	c.JSON(http.StatusCreated, InitiateRequestResponse{HolderPID: holderPID})
}

// GetRequest returns a holder credential request of the participant
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.services.Requests.FindForParticipant(c.Request.Context(), c.Param("participantContextId"), c.Param("holderPid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ReceiveCredentials accepts credentials pushed by an issuer. The issuer named
// in the bearer token must be the issuer the request was sent to.
func (h *Handlers) ReceiveCredentials(c *gin.Context) {
	participantID := c.Param("participantContextId")

	var msg dcp.CredentialMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if issuer, ok := middleware.IssuerDID(c); ok {
		req, err := h.services.Requests.FindForParticipant(c.Request.Context(), participantID, msg.HolderPID)
		if err == nil && req.IssuerDID != issuer {
			h.logger.Warn("Credential delivery from unexpected issuer",
				zap.String("holder_pid", msg.HolderPID),
				zap.String("token_issuer", issuer),
				zap.String("request_issuer", req.IssuerDID))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token issuer does not match the holder request"})
			return
		}
	}

	creds := make([]service.CredentialWriteRequest, 0, len(msg.Credentials))
	for _, cc := range msg.Credentials {
		creds = append(creds, service.CredentialWriteRequest{
			CredentialType: cc.CredentialType,
			Format:         cc.Format,
			Payload:        cc.Payload,
		})
	}

	if err := h.services.Writer.Write(c.Request.Context(), msg.HolderPID, msg.IssuerPID, creds, participantID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCredentialStatus evaluates the current status of a stored credential
func (h *Handlers) GetCredentialStatus(c *gin.Context) {
	credentialID := c.Param("credentialId")
	status, err := h.services.Credentials.Status(c.Request.Context(), c.Param("participantContextId"), credentialID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CredentialStatusResponse{ID: credentialID, Status: status})
}

// ListCredentials returns the stored credentials of the participant
func (h *Handlers) ListCredentials(c *gin.Context) {
	list, err := h.services.Credentials.List(c.Request.Context(), c.Param("participantContextId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// respondError maps service failures onto HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	var se *domain.ServiceError
	if !errors.As(err, &se) {
		h.logger.Error("Unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch se.Reason {
	case domain.ReasonBadRequest:
		status = http.StatusBadRequest
	case domain.ReasonUnauthorized:
		status = http.StatusUnauthorized
	case domain.ReasonNotFound:
		status = http.StatusNotFound
	case domain.ReasonConflict:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": se.Message, "reason": se.Reason.String()})
}
