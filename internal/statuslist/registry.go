// Package statuslist checks credentialStatus entries against published
// Bitstring Status List and Status List 2021 credentials.
package statuslist

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/multiformats/go-multibase"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/vc"
	"github.com/sirosfoundation/go-dcp-holder/pkg/logging"
)

// Entry types understood by the registry
const (
	TypeBitstringStatusListEntry = "BitstringStatusListEntry"
	TypeStatusList2021Entry      = "StatusList2021Entry"
)

// Status purposes
const (
	PurposeRevocation = "revocation"
	PurposeSuspension = "suspension"
)

const maxListSize = 16 << 20

// Registry resolves status list entries over HTTP. Lists are fetched on every
// lookup.
type Registry struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRegistry creates a Registry
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named(logging.ComponentStatusList),
	}
}

// GetRevocationStatus returns the purpose of the first set status bit, with
// revocation taking priority over suspension, or "" when no bit is set.
// Entries of unknown types are ignored.
func (r *Registry) GetRevocationStatus(ctx context.Context, cred domain.VerifiableCredential) (string, error) {
	var result string
	for _, entry := range cred.CredentialStatus {
		if entry.Type != TypeBitstringStatusListEntry && entry.Type != TypeStatusList2021Entry {
			r.logger.Debug("Ignoring credential status entry", zap.String("type", entry.Type))
			continue
		}

		set, err := r.check(ctx, entry)
		if err != nil {
			return "", fmt.Errorf("status entry %s: %w", entry.ID, err)
		}
		if !set {
			continue
		}

		purpose := entry.Field("statusPurpose")
		if purpose == "" {
			purpose = PurposeRevocation
		}
		if purpose == PurposeRevocation {
			return purpose, nil
		}
		if result == "" {
			result = purpose
		}
	}
	return result, nil
}

func (r *Registry) check(ctx context.Context, entry domain.CredentialStatus) (bool, error) {
	listURL := entry.Field("statusListCredential")
	if listURL == "" {
		return false, errors.New("missing statusListCredential")
	}
	index, err := listIndex(entry.Fields["statusListIndex"])
	if err != nil {
		return false, err
	}

	list, err := r.fetch(ctx, listURL)
	if err != nil {
		return false, err
	}
	if len(list.Subjects) == 0 {
		return false, errors.New("status list credential has no subject")
	}
	encoded, _ := list.Subjects[0]["encodedList"].(string)
	if encoded == "" {
		return false, errors.New("status list credential has no encodedList")
	}

	bits, err := decodeList(encoded, entry.Type)
	if err != nil {
		return false, err
	}
	return bitSet(bits, index)
}

func (r *Registry) fetch(ctx context.Context, listURL string) (*domain.VerifiableCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vc+jwt, application/vc+ld+json, application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize))
	if err != nil {
		return nil, fmt.Errorf("reading status list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, listURL)
	}

	raw := strings.TrimSpace(string(body))
	format := domain.FormatVC1JWT
	if strings.HasPrefix(raw, "{") {
		format = domain.FormatVC1LD
	}
	cred, err := vc.Parse(raw, format)
	if err != nil {
		return nil, fmt.Errorf("parsing status list credential: %w", err)
	}
	return cred, nil
}

func listIndex(v any) (int, error) {
	var (
		n   int
		err error
	)
	switch x := v.(type) {
	case string:
		n, err = strconv.Atoi(x)
	case float64:
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	default:
		err = errors.New("missing statusListIndex")
	}
	if err != nil {
		return 0, fmt.Errorf("invalid statusListIndex: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid statusListIndex: %d", n)
	}
	return n, nil
}

// decodeList returns the uncompressed bitstring. Bitstring lists are
// multibase encoded, 2021 lists are plain base64url.
func decodeList(encoded, entryType string) ([]byte, error) {
	var (
		compressed []byte
		err        error
	)
	if entryType == TypeBitstringStatusListEntry {
		_, compressed, err = multibase.Decode(encoded)
	}
	if entryType != TypeBitstringStatusListEntry || err != nil {
		compressed, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decoding encodedList: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompressing encodedList: %w", err)
	}
	defer func() { _ = zr.Close() }()

	bits, err := io.ReadAll(io.LimitReader(zr, maxListSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing encodedList: %w", err)
	}
	return bits, nil
}

// bitSet reads bit index with the most significant bit of byte 0 as index 0
func bitSet(bits []byte, index int) (bool, error) {
	if index/8 >= len(bits) {
		return false, fmt.Errorf("statusListIndex %d out of range", index)
	}
	return bits[index/8]&(0x80>>(index%8)) != 0, nil
}
