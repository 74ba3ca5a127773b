// Package vc extracts the fields the holder needs from credential payloads.
// Signatures are not verified here; payloads arrive over an authenticated
// DCP channel and verification belongs to presentation time.
package vc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
)

// ErrUnsupportedFormat is returned for formats this package cannot read
var ErrUnsupportedFormat = errors.New("unsupported credential format")

// coseSign1Tag is the CBOR tag of a COSE_Sign1 message (RFC 9052)
const coseSign1Tag = 18

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// Parse reads raw as a credential of the declared format. A JSON object is
// read as a plain credential whatever the declared format; anything else goes
// through the format's envelope: COSE_Sign1 for VC2_0_COSE, a compact JWT
// otherwise.
func Parse(raw string, format domain.CredentialFormat) (*domain.VerifiableCredential, error) {
	if _, err := domain.ParseCredentialFormat(string(format)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty credential payload")
	}

	if strings.HasPrefix(raw, "{") {
		return parseJSON([]byte(raw))
	}
	if format == domain.FormatVC2COSE {
		return parseCOSE(raw)
	}
	return parseJWT(raw)
}

// parseCOSE reads a base64url (or standard base64) encoded COSE_Sign1 whose
// payload is the credential JSON. The tag is optional.
func parseCOSE(raw string) (*domain.VerifiableCredential, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		if data, err = base64.StdEncoding.DecodeString(raw); err != nil {
			return nil, errors.New("COSE credential is not base64 encoded")
		}
	}

	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err == nil {
		if tag.Number != coseSign1Tag {
			return nil, fmt.Errorf("unexpected CBOR tag %d, want COSE_Sign1", tag.Number)
		}
		data = tag.Content
	}

	var msg coseSign1
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid COSE_Sign1: %w", err)
	}
	if len(msg.Payload) == 0 {
		return nil, errors.New("COSE credential has a detached or empty payload")
	}
	return parseJSON(msg.Payload)
}

func parseJWT(raw string) (*domain.VerifiableCredential, error) {
	// SD-JWT: issuer-signed part before the first disclosure
	if i := strings.IndexByte(raw, '~'); i >= 0 {
		raw = raw[:i]
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("invalid credential JWT: %w", err)
	}

	body := map[string]any(claims)
	if nested, ok := claims["vc"].(map[string]any); ok {
		body = nested
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding credential claims: %w", err)
	}

	cred, err := parseJSON(data)
	if err != nil {
		return nil, err
	}

	// registered claims stand in for missing credential properties
	if cred.ID == "" {
		if jti, ok := claims["jti"].(string); ok {
			cred.ID = jti
		}
	}
	if cred.Issuer == "" {
		if iss, err := claims.GetIssuer(); err == nil {
			cred.Issuer = iss
		}
	}
	if cred.IssuanceDate.IsZero() {
		if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil {
			cred.IssuanceDate = nbf.UTC()
		} else if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
			cred.IssuanceDate = iat.UTC()
		}
	}
	if cred.ExpirationDate == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t := exp.UTC()
			cred.ExpirationDate = &t
		}
	}
	return cred, nil
}

func parseJSON(data []byte) (*domain.VerifiableCredential, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("credential is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, errors.New("credential is not a JSON object")
	}

	cred := &domain.VerifiableCredential{
		ID:     doc.Get("id").String(),
		Types:  stringList(doc.Get("type")),
		Issuer: idOf(doc.Get("issuer")),
	}
	if len(cred.Types) == 0 {
		return nil, errors.New("credential has no type")
	}

	var err error
	if cred.IssuanceDate, err = timeOf(doc, "issuanceDate", "validFrom"); err != nil {
		return nil, err
	}
	exp, err := timeOf(doc, "expirationDate", "validUntil")
	if err != nil {
		return nil, err
	}
	if !exp.IsZero() {
		cred.ExpirationDate = &exp
	}

	for _, entry := range objectList(doc.Get("credentialStatus")) {
		status := domain.CredentialStatus{
			ID:     entry.Get("id").String(),
			Type:   entry.Get("type").String(),
			Fields: map[string]any{},
		}
		entry.ForEach(func(key, value gjson.Result) bool {
			if k := key.String(); k != "id" && k != "type" {
				status.Fields[k] = value.Value()
			}
			return true
		})
		cred.CredentialStatus = append(cred.CredentialStatus, status)
	}

	for _, subject := range objectList(doc.Get("credentialSubject")) {
		if m, ok := subject.Value().(map[string]any); ok {
			cred.Subjects = append(cred.Subjects, m)
		}
	}
	return cred, nil
}

func stringList(r gjson.Result) []string {
	if r.IsArray() {
		var out []string
		for _, v := range r.Array() {
			if s := v.String(); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := r.String(); s != "" {
		return []string{s}
	}
	return nil
}

func objectList(r gjson.Result) []gjson.Result {
	if r.IsArray() {
		var out []gjson.Result
		for _, v := range r.Array() {
			if v.IsObject() {
				out = append(out, v)
			}
		}
		return out
	}
	if r.IsObject() {
		return []gjson.Result{r}
	}
	return nil
}

func idOf(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("id").String()
	}
	return r.String()
}

func timeOf(doc gjson.Result, keys ...string) (time.Time, error) {
	for _, key := range keys {
		v := doc.Get(key)
		if !v.Exists() || v.String() == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, nil
}
