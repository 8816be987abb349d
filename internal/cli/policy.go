package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthline/waitlist/internal/validation"
)

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective validation policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := validation.LoadPolicy(rootOpts.PolicyFile)
			if err != nil {
				return fmt.Errorf("load policy: %w", err)
			}
			if rootOpts.Format == "json" {
				return writeOutput(cmd.OutOrStdout(), "json", policy, nil)
			}
			data, err := policy.Marshal()
			if err != nil {
				return fmt.Errorf("encode policy: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
