// File: cmd/analyze.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/core"
	"github.com/duns-scotus/mlpy-sub002/internal/config"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
	"github.com/duns-scotus/mlpy-sub002/internal/reporting"
	"github.com/duns-scotus/mlpy-sub002/internal/service"
)

// newAnalyzeCmd creates the `analyze` command.
func newAnalyzeCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		format  string
		output  string
		failOn  string
		persist bool
	)

	analyzeCmd := &cobra.Command{
		Use:   "analyze <files...>",
		Short: "Runs the deep and parallel analyzers over ML source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyAnalyzeFlagOverrides(cmd, cfg)

			threshold := cfg.Analysis().FailOn
			if cmd.Flags().Changed("fail-on") {
				threshold = failOn
			}
			level, gated, err := parseFailOn(threshold)
			if err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, service.Options{Persist: persist}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize analysis components: %w", err)
			}
			defer components.Shutdown()

			var reporter reporting.Reporter
			if output == "" || output == "-" {
				reporter, err = reporting.NewForWriter(format, cmd.OutOrStdout(), Version, logger)
			} else {
				reporter, err = reporting.New(format, output, Version, logger)
			}
			if err != nil {
				return fmt.Errorf("failed to initialize reporter: %w", err)
			}

			var (
				errs    []error
				tripped bool
			)
			for _, path := range args {
				env, err := components.AnalyzeFile(ctx, path)
				if env != nil {
					if werr := reporter.Write(env); werr != nil {
						errs = append(errs, fmt.Errorf("failed to write report for %s: %w", path, werr))
					}
					if gated && meetsThreshold(env, level) {
						tripped = true
					}
				}
				if err != nil {
					if errors.Is(err, context.Canceled) {
						_ = reporter.Close()
						return err
					}
					logger.Error("Analysis failed", zap.String("file", path), zap.Error(err))
					errs = append(errs, err)
				}
			}

			if err := reporter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to finalize report: %w", err))
			}
			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			if tripped {
				return ErrThreatsFound
			}
			return nil
		},
	}

	analyzeCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatText, "Report format: text, json or sarif.")
	analyzeCmd.Flags().StringVarP(&output, "output", "o", "", "Report file path. Defaults to stdout.")
	analyzeCmd.Flags().StringVar(&failOn, "fail-on", "", "Lowest severity that fails the run, or 'none'. (Overrides config/env)")
	analyzeCmd.Flags().BoolVar(&persist, "persist", false, "Store every report in the configured database.")
	analyzeCmd.Flags().IntP("workers", "j", 0, "Parallel analysis workers. (Overrides config/env)")
	analyzeCmd.Flags().Bool("no-cache", false, "Disable the parallel analysis cache.")

	return analyzeCmd
}

// applyAnalyzeFlagOverrides copies explicitly set flags into cfg.
func applyAnalyzeFlagOverrides(cmd *cobra.Command, cfg config.Interface) {
	if cmd.Flags().Changed("workers") {
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.SetAnalysisWorkers(workers)
		} else {
			observability.GetLogger().Warn("Ignoring non-positive --workers value", zap.Int("workers", workers))
		}
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.SetAnalysisCacheEnabled(false)
	}
}

// parseFailOn returns the gate level. An empty value or "none" disables the gate.
func parseFailOn(s string) (core.ThreatLevel, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return 0, false, nil
	}
	level, err := core.ParseThreatLevel(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid fail-on level: %w", err)
	}
	return level, true, nil
}

func meetsThreshold(env *schemas.ResultEnvelope, level core.ThreatLevel) bool {
	for _, t := range env.Threats {
		if l, err := core.ParseThreatLevel(string(t.Severity)); err == nil && l >= level {
			return true
		}
	}
	return false
}
