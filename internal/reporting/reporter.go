// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
)

// Supported output formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
	FormatText  = "text"
)

// Reporter defines the interface for writing analysis results to an output.
type Reporter interface {
	// Write processes a single result envelope.
	Write(result *schemas.ResultEnvelope) error
	// Close finalizes the report and closes the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath, or stdout when the
// path is empty or "stdout".
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if outputPath == "" || outputPath == "stdout" {
		return NewForWriter(format, os.Stdout, toolVersion, logger)
	}
	if err := checkArgs(format, logger); err != nil {
		return nil, err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return build(format, f, false, toolVersion, logger), nil
}

// NewForWriter creates a reporter writing to w. Closing the reporter does not
// close w. Text output is styled only when w is a terminal.
func NewForWriter(format string, w io.Writer, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if err := checkArgs(format, logger); err != nil {
		return nil, err
	}
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd())
	}
	return build(format, &nopWriteCloser{w}, styled, toolVersion, logger), nil
}

func checkArgs(format string, logger *zap.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}
	switch format {
	case FormatJSON, FormatSARIF, FormatText:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func build(format string, writer io.WriteCloser, styled bool, toolVersion string, logger *zap.Logger) Reporter {
	switch format {
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion, logger)
	case FormatJSON:
		return NewJSONReporter(writer, logger)
	default:
		return NewTextReporter(writer, styled, logger)
	}
}
