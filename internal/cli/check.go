package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthline/waitlist/internal/abuse"
	"github.com/hearthline/waitlist/internal/validation"
)

// CheckResult is the verdict of check-email.
type CheckResult struct {
	Email      string   `json:"email"`
	Valid      bool     `json:"valid"`
	Code       string   `json:"code,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	RiskScore  int      `json:"risk_score"`
	RiskLevel  string   `json:"risk_level"`
	RiskFlags  []string `json:"risk_flags"`
}

// defaultUserAgent stands in for a browser; an empty agent scores as a bot.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

type checkOptions struct {
	postal    string
	userAgent string
	threshold float64
}

// NewCheckEmailCommand creates the check-email command.
func NewCheckEmailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check-email <email>",
		Short: "Run the validator and abuse heuristics against an address",
		Long: `Run the same validation and risk scoring the signup endpoint applies,
without touching the database or any collaborator.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runCheck(rootOpts.PolicyFile, args[0], opts)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) {
				printCheck(w, res)
			})
		},
	}

	cmd.Flags().StringVar(&opts.postal, "postal", "", "postal code to check against the service area")
	cmd.Flags().StringVar(&opts.userAgent, "user-agent", defaultUserAgent, "user agent to include in the risk score")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", abuse.DefaultThreshold, "naturalness threshold for the local part")

	return cmd
}

func runCheck(policyFile, email string, opts *checkOptions) (CheckResult, error) {
	policy, err := validation.LoadPolicy(policyFile)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load policy: %w", err)
	}

	res := CheckResult{Email: email, RiskFlags: []string{}}

	valid, err := validation.New(policy).Validate(validation.Input{Email: email, PostalCode: opts.postal})
	if err != nil {
		res.Code = validation.Code(err)
		res.Reason = err.Error()
		return res, nil
	}
	res.Valid = true
	res.Email = valid.Email
	res.PostalCode = valid.PostalCode

	assessment := abuse.NewAssessor(nil, opts.threshold).Assess(abuse.Input{
		LocalPart: valid.LocalPart,
		UserAgent: opts.userAgent,
	})
	res.RiskScore = assessment.Score
	res.RiskLevel = string(assessment.Level)
	if len(assessment.Reasons) > 0 {
		res.RiskFlags = assessment.Reasons
	}
	return res, nil
}

func printCheck(w io.Writer, res CheckResult) {
	if !res.Valid {
		fmt.Fprintf(w, "REJECTED %s: %s (%s)\n", res.Email, res.Code, res.Reason)
		return
	}
	fmt.Fprintf(w, "ACCEPTED %s\n", res.Email)
	if res.PostalCode != "" {
		fmt.Fprintf(w, "  postal code: %s\n", res.PostalCode)
	}
	fmt.Fprintf(w, "  risk: %s (score %d)\n", res.RiskLevel, res.RiskScore)
	if len(res.RiskFlags) > 0 {
		fmt.Fprintf(w, "  flags: %s\n", strings.Join(res.RiskFlags, ", "))
	}
}
