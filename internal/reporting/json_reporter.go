package reporting

import (
	"fmt"
	"io"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
)

// jsonDocument is the top-level JSON report.
type jsonDocument struct {
	Reports []*schemas.ResultEnvelope `json:"reports"`
	Secure  bool                      `json:"secure"`
}

// JSONReporter buffers envelopes and writes a single document on Close.
type JSONReporter struct {
	writer  io.WriteCloser
	logger  *zap.Logger
	mu      sync.Mutex
	reports []*schemas.ResultEnvelope
}

// NewJSONReporter creates a JSON reporter that owns writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{
		writer:  writer,
		logger:  logger.Named("json_reporter"),
		reports: []*schemas.ResultEnvelope{},
	}
}

func (r *JSONReporter) Write(result *schemas.ResultEnvelope) error {
	if result == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, result)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := jsonDocument{Reports: r.reports, Secure: true}
	for _, rep := range r.reports {
		doc.Secure = doc.Secure && rep.IsSecure
	}

	data, encodeErr := json.MarshalIndent(doc, "", "  ")
	if encodeErr == nil {
		data = append(data, '\n')
		_, encodeErr = r.writer.Write(data)
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to write JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to write JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report", zap.Int("reports", len(r.reports)))
	return nil
}
