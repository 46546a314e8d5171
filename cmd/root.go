// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/config"
	"github.com/duns-scotus/mlpy-sub002/internal/observability"
	"github.com/duns-scotus/mlpy-sub002/internal/service"
)

type contextKey string

const configKey contextKey = "config"

// ErrThreatsFound is returned by analyze when a threat meets the fail-on level.
var ErrThreatsFound = errors.New("threats at or above the fail-on level were found")

// ErrNotPermitted is returned by check when the verdict does not allow the operation.
var ErrNotPermitted = errors.New("operation not permitted")

// NewRootCommand creates a fresh command tree wired to the production factory.
func NewRootCommand() *cobra.Command {
	return newRootCmd(service.NewComponentFactory())
}

// Execute runs the command tree with ctx. Errors are logged here; the caller
// only chooses the exit code.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrThreatsFound) && !errors.Is(err, ErrNotPermitted) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

func newRootCmd(factory service.ComponentFactory) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "mlsec",
		Short:         "mlsec analyzes ML sandbox programs for security threats.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cfgFile, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "mlsec"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting mlsec", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newAnalyzeCmd(factory))
	rootCmd.AddCommand(newCheckCmd(factory))
	rootCmd.AddCommand(newWatchCmd(factory))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// initializeConfig reads the config file into v. Without an explicit file a
// missing ./config.yaml is not an error.
func initializeConfig(cfgFile string, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in command context")
	}
	return cfg, nil
}
