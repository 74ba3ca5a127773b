package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// RequestedCredential is one credential asked of the issuer
type RequestedCredential struct {
	ID             string `json:"id,omitempty"`
	CredentialType string `json:"credentialType"`
	Format         string `json:"format"`
}

// HolderRequest represents a holder credential request response
type HolderRequest struct {
	HolderPID            string                `json:"holderPid"`
	ParticipantContextID string                `json:"participantContextId"`
	IssuerDID            string                `json:"issuerDid"`
	IssuerPID            string                `json:"issuerPid,omitempty"`
	RequestedCredentials []RequestedCredential `json:"requestedCredentials"`
	State                string                `json:"state"`
	StateTimestamp       string                `json:"stateTimestamp"`
	StateCount           int                   `json:"stateCount"`
	ErrorDetail          string                `json:"errorDetail,omitempty"`
}

// parseCredentialSpec parses "type:format" or "type:format:id"
func parseCredentialSpec(spec string) (RequestedCredential, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return RequestedCredential{}, fmt.Errorf("invalid credential %q, want type:format[:id]", spec)
	}
	rc := RequestedCredential{CredentialType: parts[0], Format: parts[1]}
	if len(parts) == 3 {
		rc.ID = parts[2]
	}
	return rc, nil
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage credential requests",
	Long:  `Commands for requesting credentials from an issuer on behalf of a participant.`,
}

var (
	requestCreateIssuer      string
	requestCreateHolderPID   string
	requestCreateCredentials []string
)

var requestCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Request credentials from an issuer",
	Long: `Create a credential request. The holder sends it to the issuer
in the background and polls the issuer until the request completes.

Credentials are given as type:format or type:format:id, for example
MembershipCredential:VC1_0_JWT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireParticipant(); err != nil {
			return err
		}
		if requestCreateIssuer == "" {
			return fmt.Errorf("--issuer is required")
		}
		if len(requestCreateCredentials) == 0 {
			return fmt.Errorf("at least one --credential is required")
		}

		creds := make([]RequestedCredential, 0, len(requestCreateCredentials))
		for _, spec := range requestCreateCredentials {
			rc, err := parseCredentialSpec(spec)
			if err != nil {
				return err
			}
			creds = append(creds, rc)
		}

		reqBody := map[string]interface{}{
			"issuerDid":   requestCreateIssuer,
			"credentials": creds,
		}
		if requestCreateHolderPID != "" {
			reqBody["holderPid"] = requestCreateHolderPID
		}

		client := NewClient(holderURL)
		data, err := client.Request("POST", participantPath("/requests"), reqBody)
		if err != nil {
			return err
		}

		if output == "json" {
			return printJSON(data)
		}

		var resp struct {
			HolderPID string `json:"holderPid"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Printf("Credential request '%s' created.\n", resp.HolderPID)
		return nil
	},
}

var requestGetCmd = &cobra.Command{
	Use:   "get [holder-pid]",
	Short: "Get a credential request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireParticipant(); err != nil {
			return err
		}

		client := NewClient(holderURL)
		data, err := client.Request("GET", participantPath("/requests/"+args[0]), nil)
		if err != nil {
			return err
		}

		if output == "json" {
			return printJSON(data)
		}

		var req HolderRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		detail := req.ErrorDetail
		if detail == "" {
			detail = "-"
		}
		headers := []string{"HOLDER PID", "ISSUER", "STATE", "SINCE", "ERROR"}
		printTable(headers, [][]string{{req.HolderPID, req.IssuerDID, req.State, req.StateTimestamp, detail}})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.AddCommand(requestCreateCmd)
	requestCmd.AddCommand(requestGetCmd)

	requestCreateCmd.Flags().StringVar(&requestCreateIssuer, "issuer", "", "Issuer DID (required)")
	requestCreateCmd.Flags().StringVar(&requestCreateHolderPID, "holder-pid", "", "Holder process id (generated when empty)")
	requestCreateCmd.Flags().StringArrayVar(&requestCreateCredentials, "credential", nil, "Credential as type:format[:id], repeatable")
}
