// Package cmd contains all CLI commands for dcp-holder-admin.
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	holderURL   string
	participant string
	output      string
)

// Client wraps HTTP client for participant API calls
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new participant API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Request makes an HTTP request to the participant API
func (c *Client) Request(method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	url := c.baseURL + path
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// participantPath prefixes path with the participant API base
func participantPath(path string) string {
	return "/api/v1/participants/" + participant + path
}

func requireParticipant() error {
	if participant == "" {
		return fmt.Errorf("--participant is required")
	}
	return nil
}

// printJSON formats and prints JSON output
func printJSON(data []byte) error {
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, data, "", "  "); err != nil {
		// If it's not valid JSON, just print as-is
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(formatted.String())
	return nil
}

// printTable prints data in a simple table format
func printTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Printf("%-*s  ", widths[i], h)
	}
	fmt.Println()

	for i := range headers {
		fmt.Printf("%s  ", strings.Repeat("-", widths[i]))
	}
	fmt.Println()

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Printf("%-*s  ", widths[i], cell)
			}
		}
		fmt.Println()
	}
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dcp-holder-admin",
	Short: "CLI tool for operating the DCP holder service",
	Long: `dcp-holder-admin is a command-line tool for driving credential requests
of a DCP holder through its participant API.

It provides commands for:
  - Requests: Ask an issuer for credentials and follow the request state
  - Credentials: List stored credentials and evaluate their status

Examples:
  # Request a membership credential
  dcp-holder-admin -p participant-1 request create \
      --issuer did:web:issuer.example.com --credential MembershipCredential:VC1_0_JWT

  # Follow the request
  dcp-holder-admin -p participant-1 request get 6f1c...

  # Check a stored credential
  dcp-holder-admin -p participant-1 credential status 9a2e...

Environment Variables:
  DCP_HOLDER_URL          Base URL of the holder service (default: http://localhost:8080)
  DCP_HOLDER_PARTICIPANT  Participant context id`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&holderURL, "url", "u", getEnvOrDefault("DCP_HOLDER_URL", "http://localhost:8080"), "Holder service base URL")
	rootCmd.PersistentFlags().StringVarP(&participant, "participant", "p", os.Getenv("DCP_HOLDER_PARTICIPANT"), "Participant context id")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
