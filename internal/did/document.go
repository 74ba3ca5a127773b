// Package did resolves DID documents for issuer endpoint discovery. The
// resolution algorithms themselves live in an external resolver service; this
// package only talks to it and caches the results.
package did

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrServiceNotFound is returned when a document has no service of the requested type
var ErrServiceNotFound = errors.New("service not found in DID document")

// Document is the subset of a DID document the holder needs
type Document struct {
	Context            any                  `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	Controller         any                  `json:"controller,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// VerificationMethod is a key entry of a DID document
type VerificationMethod struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Controller   string         `json:"controller"`
	PublicKeyJwk map[string]any `json:"publicKeyJwk,omitempty"`
}

// Service is a service entry of a DID document
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// UnmarshalJSON accepts serviceEndpoint as a string, a list of strings or a
// map with a "uri" entry, the shapes allowed by DID core.
func (s *Service) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID              string          `json:"id"`
		Type            json.RawMessage `json:"type"`
		ServiceEndpoint json.RawMessage `json:"serviceEndpoint"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID

	s.Type = firstString(raw.Type)
	s.ServiceEndpoint = firstString(raw.ServiceEndpoint)
	if s.ServiceEndpoint == "" && len(raw.ServiceEndpoint) > 0 {
		var m map[string]any
		if err := json.Unmarshal(raw.ServiceEndpoint, &m); err == nil {
			if uri, ok := m["uri"].(string); ok {
				s.ServiceEndpoint = uri
			}
		}
	}
	return nil
}

func firstString(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// FindService returns the first service whose type is one of types
func (d *Document) FindService(types ...string) (*Service, error) {
	for i := range d.Service {
		for _, t := range types {
			if d.Service[i].Type == t {
				return &d.Service[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s has no %s", ErrServiceNotFound, d.ID, strings.Join(types, " or "))
}
