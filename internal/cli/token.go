package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hearthline/waitlist/internal/auth"
	"github.com/hearthline/waitlist/internal/webhook"
)

// TokenResult is the output of the token command.
type TokenResult struct {
	Token string `json:"token"`
	Hash  string `json:"hash"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate an admin token and its ADMIN_TOKEN_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := auth.GenerateAdminToken()
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			res := TokenResult{Token: gen.Plaintext, Hash: gen.Hash}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) {
				fmt.Fprintf(w, "Token (shown once): %s\n", res.Token)
				fmt.Fprintf(w, "ADMIN_TOKEN_HASH=%s\n", res.Hash)
			})
		},
	}
}

// SecretResult is the output of the webhook-secret command.
type SecretResult struct {
	Secret string `json:"secret"`
}

// NewWebhookSecretCommand creates the webhook-secret command.
func NewWebhookSecretCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "webhook-secret",
		Short: "Generate a signing secret for AUTOMATION_WEBHOOK_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := webhook.GenerateSecret()
			if err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			res := SecretResult{Secret: secret}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) {
				fmt.Fprintf(w, "AUTOMATION_WEBHOOK_SECRET=%s\n", res.Secret)
			})
		},
	}
}
