// Package api provides the HTTP handlers of the DCP holder service.
package api

// APIVersion represents the current API version supported by this server.
//
// The version is reported on /status and mirrors the /api/v1 URL prefix.
const (
	// APIVersion1 is the first version of the participant API.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// APICapabilities describes the features available at each API version.
var APICapabilities = map[int][]string{
	APIVersion1: {
		"credential-requests",
		"credential-delivery",
		"credential-status",
	},
}

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	Storage      string   `json:"storage,omitempty"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// NewStatusResponse builds a status response for the current API version
func NewStatusResponse(status, storage string) StatusResponse {
	return StatusResponse{
		Status:       status,
		Service:      "dcp-holder",
		Storage:      storage,
		APIVersion:   CurrentAPIVersion,
		Capabilities: APICapabilities[CurrentAPIVersion],
	}
}
