// Package dcp contains the Decentralized Claims Protocol messages exchanged
// with credential issuers and the outbound client that carries them.
package dcp

// Context is the JSON-LD context of all DCP messages
const Context = "https://w3id.org/dspace-dcp/v1.0/dcp.jsonld"

// Message types
const (
	TypeCredentialRequestMessage = "CredentialRequestMessage"
	TypeCredentialMessage        = "CredentialMessage"
)

// Status strings an issuer reports for a request
const (
	StatusReceived = "RECEIVED"
	StatusIssued   = "ISSUED"
	StatusRejected = "REJECTED"
)

// CredentialObject references one credential being requested
type CredentialObject struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
}

// CredentialRequestMessage is sent by a holder to ask for credentials
type CredentialRequestMessage struct {
	Context     []string           `json:"@context"`
	Type        string             `json:"type"`
	HolderPID   string             `json:"holderPid"`
	Credentials []CredentialObject `json:"credentials"`
}

// NewCredentialRequestMessage builds a request message for holderPID
func NewCredentialRequestMessage(holderPID string, credentials []CredentialObject) *CredentialRequestMessage {
	return &CredentialRequestMessage{
		Context:     []string{Context},
		Type:        TypeCredentialRequestMessage,
		HolderPID:   holderPID,
		Credentials: credentials,
	}
}

// CredentialContainer carries one issued credential
type CredentialContainer struct {
	CredentialType string `json:"credentialType" binding:"required"`
	Format         string `json:"format" binding:"required"`
	Payload        string `json:"payload" binding:"required"`
}

// CredentialMessage is pushed by an issuer to deliver credentials
type CredentialMessage struct {
	Context     []string              `json:"@context,omitempty"`
	Type        string                `json:"type,omitempty"`
	HolderPID   string                `json:"holderPid" binding:"required"`
	IssuerPID   string                `json:"issuerPid"`
	Credentials []CredentialContainer `json:"credentials" binding:"required,dive"`
}
