package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes adds the participant API to the group. issuerAuth guards the
// endpoint issuers push credentials to.
func (h *Handlers) RegisterRoutes(group *gin.RouterGroup, issuerAuth gin.HandlerFunc) {
	participant := group.Group("/participants/:participantContextId")
	{
		participant.POST("/requests", h.InitiateRequest)
		participant.GET("/requests/:holderPid", h.GetRequest)

		participant.GET("/credentials", h.ListCredentials)
		participant.GET("/credentials/:credentialId/status", h.GetCredentialStatus)

		participant.POST("/dcp/credentials", issuerAuth, h.ReceiveCredentials)
	}
}
