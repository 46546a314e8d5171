package core

import (
	"go.uber.org/zap"
)

// AnalyzerType distinguishes the stages of the static pipeline.
type AnalyzerType string

const (
	// TypeCollector analyzers build the type/taint fact base.
	TypeCollector AnalyzerType = "COLLECTOR"
	// TypePattern analyzers match textual or structural signatures.
	TypePattern AnalyzerType = "PATTERN"
	// TypeDataFlow analyzers follow untrusted values into sinks.
	TypeDataFlow AnalyzerType = "DATA_FLOW"
	// TypeComposite analyzers orchestrate other analyzers.
	TypeComposite AnalyzerType = "COMPOSITE"
)

// Analyzer is the identity every pipeline component exposes. The coordinator
// keys per-task statistics by Name.
type Analyzer interface {
	Name() string
	Description() string
	Type() AnalyzerType
}

// BaseAnalyzer provides the common Analyzer fields. It is intended to be
// embedded within concrete analyzers to reduce boilerplate code.
type BaseAnalyzer struct {
	name         string
	description  string
	analyzerType AnalyzerType
	Logger       *zap.Logger // Exposed for use in specific analyzer implementations.
}

// NewBaseAnalyzer creates a BaseAnalyzer with a logger named after the analyzer.
func NewBaseAnalyzer(name, description string, analyzerType AnalyzerType, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		name:         name,
		description:  description,
		analyzerType: analyzerType,
		Logger:       logger.Named(name),
	}
}

// Name returns the analyzer's name.
func (b *BaseAnalyzer) Name() string {
	return b.name
}

// Description returns the analyzer's description.
func (b *BaseAnalyzer) Description() string {
	return b.description
}

// Type returns the analyzer's pipeline stage.
func (b *BaseAnalyzer) Type() AnalyzerType {
	return b.analyzerType
}
