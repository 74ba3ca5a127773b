package dcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseSize = 1 << 20

// StatusError is returned for non-2xx issuer responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("issuer returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IssuerClient talks to the credential request service of an issuer
type IssuerClient struct {
	httpClient *http.Client
}

// NewIssuerClient creates an IssuerClient with the given request timeout
func NewIssuerClient(timeout time.Duration) *IssuerClient {
	return &IssuerClient{httpClient: &http.Client{Timeout: timeout}}
}

// NewIssuerClientWithHTTP wraps an existing http.Client
func NewIssuerClientWithHTTP(client *http.Client) *IssuerClient {
	return &IssuerClient{httpClient: client}
}

// RequestCredentials posts msg to {endpoint}/credentials and returns the
// issuer-assigned process id.
func (c *IssuerClient) RequestCredentials(ctx context.Context, endpoint, token string, msg *CredentialRequestMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding request message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/credentials", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req, token)
	if err != nil {
		return "", err
	}

	if pid := gjson.GetBytes(data, "issuerPid"); pid.Type == gjson.String {
		return pid.String(), nil
	}
	pid := strings.TrimSpace(string(data))
	if pid == "" {
		return "", fmt.Errorf("issuer response carries no process id")
	}
	return pid, nil
}

// GetRequestStatus fetches {endpoint}/request/{holderPID} and returns the
// raw response text.
func (c *IssuerClient) GetRequestStatus(ctx context.Context, endpoint, token, holderPID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/request/"+url.PathEscape(holderPID), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	data, err := c.do(req, token)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *IssuerClient) do(req *http.Request, token string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
