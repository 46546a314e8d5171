// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/config"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
	"github.com/duns-scotus/mlpy-sub002/internal/reporting"
	"github.com/duns-scotus/mlpy-sub002/internal/service"
	"github.com/duns-scotus/mlpy-sub002/internal/watcher"
)

// newWatchCmd creates the `watch` command.
func newWatchCmd(factory service.ComponentFactory) *cobra.Command {
	var persist bool

	watchCmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-analyzes ML source files in a directory whenever they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, service.Options{Persist: persist}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize analysis components: %w", err)
			}
			defer components.Shutdown()

			reporter, err := reporting.NewForWriter(reporting.FormatText, cmd.OutOrStdout(), Version, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := reporter.Close(); err != nil {
					logger.Warn("Failed to close reporter", zap.Error(err))
				}
			}()

			if cfg.Metrics().Enabled {
				_, stop, err := startMetricsServer(cfg.Metrics(), logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			analyze := func(ctx context.Context, path string) error {
				env, err := components.AnalyzeFile(ctx, path)
				if env != nil {
					if werr := reporter.Write(env); werr != nil {
						return werr
					}
				}
				return err
			}

			w, err := watcher.New(cfg.Watch(), components.Coordinator, analyze, logger)
			if err != nil {
				return err
			}
			return w.Run(ctx, args[0])
		},
	}

	watchCmd.Flags().BoolVar(&persist, "persist", false, "Store every report in the configured database.")
	return watchCmd
}

// startMetricsServer serves /metrics until the returned stop function is called.
// It returns the bound address.
func startMetricsServer(cfg config.MetricsConfig, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("address", ln.Addr().String()))

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
		<-done
	}, nil
}
