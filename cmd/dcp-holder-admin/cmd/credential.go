package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// StoredCredential represents a stored credential resource
type StoredCredential struct {
	ID       string `json:"id"`
	IssuerID string `json:"issuerId"`
	Format   string `json:"format"`
	State    string `json:"state"`
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Inspect stored credentials",
	Long:  `Commands for listing stored credentials and evaluating their status.`,
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials of the participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireParticipant(); err != nil {
			return err
		}

		client := NewClient(holderURL)
		data, err := client.Request("GET", participantPath("/credentials"), nil)
		if err != nil {
			return err
		}

		if output == "json" {
			return printJSON(data)
		}

		var creds []StoredCredential
		if err := json.Unmarshal(data, &creds); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if len(creds) == 0 {
			fmt.Println("No credentials found.")
			return nil
		}

		headers := []string{"ID", "ISSUER", "FORMAT", "STATE"}
		rows := make([][]string, len(creds))
		for i, c := range creds {
			rows[i] = []string{c.ID, c.IssuerID, c.Format, c.State}
		}
		printTable(headers, rows)
		return nil
	},
}

var credentialStatusCmd = &cobra.Command{
	Use:   "status [credential-id]",
	Short: "Evaluate the current status of a credential",
	Long: `Evaluate a stored credential now. Revocation and suspension are
looked up from the credential's status list.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireParticipant(); err != nil {
			return err
		}

		client := NewClient(holderURL)
		data, err := client.Request("GET", participantPath("/credentials/"+args[0]+"/status"), nil)
		if err != nil {
			return err
		}

		if output == "json" {
			return printJSON(data)
		}

		var resp struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Println(resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialListCmd)
	credentialCmd.AddCommand(credentialStatusCmd)
}
