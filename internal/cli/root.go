// Package cli implements waitlistctl, the operator command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format     string // "json" | "text"
	PolicyFile string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for waitlistctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "waitlistctl",
		Short: "Operator tooling for the Hearthline waitlist",
		Long:  "Generate admin credentials and dry-run the signup policy without a running server.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.PolicyFile, "policy", "", "policy YAML file (defaults to the embedded policy)")

	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewWebhookSecretCommand(opts))
	cmd.AddCommand(NewCheckEmailCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))

	return cmd
}

// writeOutput prints v as indented JSON or runs text to write it by hand.
func writeOutput(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
