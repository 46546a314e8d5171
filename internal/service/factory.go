// File: internal/service/factory.go
// Package service wires configuration into the analysis pipeline shared by the
// CLI commands.
package service

import (
	"context"
	"fmt"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/internal/analysis/parallel"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/deep"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/info"
	"github.com/duns-scotus/mlpy-sub002/internal/capability"
	"github.com/duns-scotus/mlpy-sub002/internal/config"
	"github.com/duns-scotus/mlpy-sub002/internal/store"
)

// Options selects optional components.
type Options struct {
	// Persist connects to the configured database and stores every report.
	Persist bool
}

// ComponentFactory creates the components a command needs. Commands depend on
// the interface so tests can substitute a factory without a database.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create builds the pipeline. Partially created components are shut down when a
// later step fails.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, opts Options, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	analysisCfg := cfg.Analysis()

	components := &Components{
		cacheEnabled:   analysisCfg.CacheEnabled,
		defaultContext: cfg.Capability().DefaultContext,
		logger:         logger.Named("service"),
	}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Analyzers
	collector := info.NewCollector(logger, info.WithNodeBudget(analysisCfg.NodeBudget))
	components.Analyzer = deep.NewAnalyzer(logger, deep.WithCollector(collector))
	components.Coordinator = parallel.NewCoordinator(logger,
		parallel.WithWorkers(analysisCfg.Workers),
		parallel.WithNodeBudget(analysisCfg.NodeBudget),
	)
	logger.Debug("Analyzers initialized.", zap.Int("workers", analysisCfg.Workers))

	// 2. Capability policy
	components.Validator = capability.NewValidator(logger)
	if file := cfg.Capability().PolicyFile; file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			initializationErr = fmt.Errorf("failed to expand policy path: %w", err)
			return nil, initializationErr
		}
		policy, err := capability.LoadPolicy(path)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Policy = policy
		logger.Debug("Capability policy loaded.", zap.String("file", path), zap.Strings("contexts", policy.Names()))
	}

	// 3. Store
	if opts.Persist {
		url := cfg.Database().URL
		if url == "" {
			initializationErr = fmt.Errorf("database URL is not configured (hint: check MLSEC_DATABASE_URL)")
			return nil, initializationErr
		}
		dbStore, pool, err := store.Connect(ctx, url, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		components.DBPool = pool
		if err := dbStore.Migrate(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Store = dbStore
		logger.Debug("Store service initialized.")
	}

	return components, nil
}
