package domain

import (
	"fmt"
	"time"
)

// CredentialFormat represents the format of a credential as named by DCP
type CredentialFormat string

const (
	FormatVC1JWT   CredentialFormat = "VC1_0_JWT"
	FormatVC1LD    CredentialFormat = "VC1_0_LD"
	FormatVC2JOSE  CredentialFormat = "VC2_0_JOSE"
	FormatVC2SDJWT CredentialFormat = "VC2_0_SD_JWT"
	FormatVC2COSE  CredentialFormat = "VC2_0_COSE"
)

var knownFormats = []CredentialFormat{FormatVC1JWT, FormatVC1LD, FormatVC2JOSE, FormatVC2SDJWT, FormatVC2COSE}

// ParseCredentialFormat validates a declared format name
func ParseCredentialFormat(s string) (CredentialFormat, error) {
	for _, f := range knownFormats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown credential format %q", s)
}

// IsEnveloped reports whether the payload is a compact JWS/JWT rather than plain JSON
func (f CredentialFormat) IsEnveloped() bool {
	return f == FormatVC1JWT || f == FormatVC2JOSE || f == FormatVC2SDJWT
}

// VcStatus is the point-in-time validity of a stored credential
type VcStatus string

const (
	VcStatusIssued      VcStatus = "ISSUED"
	VcStatusExpired     VcStatus = "EXPIRED"
	VcStatusNotYetValid VcStatus = "NOT_YET_VALID"
	VcStatusSuspended   VcStatus = "SUSPENDED"
	VcStatusRevoked     VcStatus = "REVOKED"
)

// MetadataCredentialObjectID links a stored credential to the requested credential it answered
const MetadataCredentialObjectID = "credentialObjectId"

// CredentialStatus is one credentialStatus entry of a credential
type CredentialStatus struct {
	ID     string         `json:"id,omitempty" bson:"id,omitempty"`
	Type   string         `json:"type" bson:"type"`
	Fields map[string]any `json:"fields,omitempty" bson:"fields,omitempty"`
}

// Field returns a status entry property as a string
func (s CredentialStatus) Field(name string) string {
	if v, ok := s.Fields[name]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// VerifiableCredential is the parsed view of a credential payload
type VerifiableCredential struct {
	ID               string             `json:"id,omitempty" bson:"id,omitempty"`
	Types            []string           `json:"type" bson:"types"`
	Issuer           string             `json:"issuer" bson:"issuer"`
	IssuanceDate     time.Time          `json:"issuanceDate" bson:"issuance_date"`
	ExpirationDate   *time.Time         `json:"expirationDate,omitempty" bson:"expiration_date,omitempty"`
	CredentialStatus []CredentialStatus `json:"credentialStatus,omitempty" bson:"credential_status,omitempty"`
	Subjects         []map[string]any   `json:"credentialSubject,omitempty" bson:"credential_subject,omitempty"`
}

// HasType reports whether the credential declares the given type
func (vc VerifiableCredential) HasType(t string) bool {
	for _, v := range vc.Types {
		if v == t {
			return true
		}
	}
	return false
}

// VerifiableCredentialResource wraps a stored credential and its status
type VerifiableCredentialResource struct {
	ID                   string               `json:"id" bson:"_id"`
	ParticipantContextID string               `json:"participantContextId" bson:"participant_context_id"`
	HolderID             string               `json:"holderId" bson:"holder_id"`
	IssuerID             string               `json:"issuerId" bson:"issuer_id"`
	Format               CredentialFormat     `json:"format" bson:"format"`
	RawVC                string               `json:"rawVc" bson:"raw_vc"`
	Credential           VerifiableCredential `json:"credential" bson:"credential"`
	State                VcStatus             `json:"state" bson:"state"`
	Metadata             map[string]any       `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt            time.Time            `json:"createdAt" bson:"created_at"`
	UpdatedAt            time.Time            `json:"updatedAt" bson:"updated_at"`
}
