// File: internal/service/components.go
package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/parallel"
	"github.com/duns-scotus/mlpy-sub002/internal/analysis/static/deep"
	"github.com/duns-scotus/mlpy-sub002/internal/capability"
	"github.com/duns-scotus/mlpy-sub002/internal/mlast"
	"github.com/duns-scotus/mlpy-sub002/internal/reporting"
)

// ErrUnknownContext is returned when a capability context is not defined by the policy.
var ErrUnknownContext = errors.New("unknown capability context")

// Components holds the initialized pipeline services for one command.
type Components struct {
	Analyzer    *deep.Analyzer
	Coordinator *parallel.Coordinator
	Validator   *capability.Validator
	// Policy is nil when no policy file is configured.
	Policy *capability.Policy
	// Store is nil unless persistence was requested.
	Store  schemas.Store
	DBPool *pgxpool.Pool

	cacheEnabled   bool
	defaultContext string
	logger         *zap.Logger
}

// Shutdown releases the database pool, if any.
func (c *Components) Shutdown() {
	if c.DBPool != nil {
		c.DBPool.Close()
		c.logger.Debug("Database connection pool closed.")
	}
}

// AnalyzeFile reads path and runs it through the pipeline.
func (c *Components) AnalyzeFile(ctx context.Context, path string) (*schemas.ResultEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.AnalyzeSource(ctx, path, string(data))
}

// AnalyzeSource parses source, runs the deep analyzer and the parallel
// coordinator, and persists the envelope when a store is configured. The
// envelope's threats come from the deep analyzer; the coordinator's merged count
// rides along for comparison.
func (c *Components) AnalyzeSource(ctx context.Context, filename, source string) (*schemas.ResultEnvelope, error) {
	prog, err := mlast.Parse(ctx, filename, source)
	if err != nil {
		return nil, err
	}

	res, err := c.Analyzer.AnalyzeDeep(ctx, prog, nil)
	if err != nil {
		return nil, fmt.Errorf("deep analysis of %s failed: %w", filename, err)
	}

	// Anonymous inputs cannot be cached.
	useCache := c.cacheEnabled && filename != ""
	par, err := c.Coordinator.AnalyzeParallel(ctx, source, filename, useCache)
	if err != nil {
		return nil, fmt.Errorf("parallel analysis of %s failed: %w", filename, err)
	}
	if par.ThreatCount != len(res.Threats) {
		c.logger.Debug("Parallel and deep threat counts differ",
			zap.String("file", filename),
			zap.Int("deep", len(res.Threats)),
			zap.Int("parallel", par.ThreatCount),
		)
	}

	env := reporting.NewEnvelope(res, par.ThreatCount)
	if c.Store != nil {
		if err := c.Store.PersistReport(ctx, env); err != nil {
			return env, fmt.Errorf("failed to persist report for %s: %w", filename, err)
		}
	}
	c.logger.Info("Analysis complete",
		zap.String("file", filename),
		zap.Bool("secure", env.IsSecure),
		zap.Int("threats", len(env.Threats)),
	)
	return env, nil
}

// CapabilityContext resolves a policy context by name. An empty name selects the
// configured default. Without a policy file the default context grants nothing.
func (c *Components) CapabilityContext(name string) (*capability.Context, error) {
	if name == "" {
		name = c.defaultContext
	}
	if c.Policy == nil {
		if name != c.defaultContext {
			return nil, fmt.Errorf("%w: %q (no policy file configured)", ErrUnknownContext, name)
		}
		return capability.NewContext(name), nil
	}
	ctx, ok := c.Policy.Context(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContext, name)
	}
	return ctx, nil
}

// Check validates one resource request against the named context.
func (c *Components) Check(contextName, resourceType, resource, op, principal string) (capability.Verdict, *capability.Violation, error) {
	capCtx, err := c.CapabilityContext(contextName)
	if err != nil {
		return "", nil, err
	}
	verdict, violation := c.Validator.Validate(capCtx, resourceType, resource, op, principal)
	return verdict, violation, nil
}
