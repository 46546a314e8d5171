// File: cmd/check.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duns-scotus/mlpy-sub002/internal/observability"
	"github.com/duns-scotus/mlpy-sub002/internal/service"
)

// newCheckCmd creates the `check` command.
func newCheckCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		contextName string
		principal   string
	)

	checkCmd := &cobra.Command{
		Use:   "check <type> <resource> <operation>",
		Short: "Validates one resource request against a capability context",
		Long: `Validates one resource request against a capability context.

Resource types are file, network, module and env. The blocklist is applied
before any token in the policy, so sensitive paths and loopback endpoints are
BLOCKED regardless of the context. The command exits non-zero unless the
verdict is ALLOWED.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, service.Options{}, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to initialize capability validator: %w", err)
			}
			defer components.Shutdown()

			verdict, violation, err := components.Check(contextName, args[0], args[1], args[2], principal)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, verdict)
			if violation != nil {
				fmt.Fprintf(out, "  rule:   %s\n", violation.Rule)
				fmt.Fprintf(out, "  reason: %s\n", violation.Reason)
				if violation.Canonical != "" {
					fmt.Fprintf(out, "  canonical resource: %s\n", violation.Canonical)
				}
			}
			if !verdict.Permits() {
				return fmt.Errorf("%w: %s", ErrNotPermitted, verdict)
			}
			return nil
		},
	}

	checkCmd.Flags().StringVar(&contextName, "context", "", "Capability context name. Defaults to capability.default_context.")
	checkCmd.Flags().StringVar(&principal, "principal", "", "Principal recorded in violations.")
	return checkCmd
}
