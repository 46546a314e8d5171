package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
)

var severityStyles = map[schemas.Severity]lipgloss.Style{
	schemas.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E05A3A")),
	schemas.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E8734A")),
	schemas.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D")),
	schemas.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("#A89984")),
	schemas.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("#A89984")),
}

var (
	styleFile   = lipgloss.NewStyle().Bold(true)
	styleSecure = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8B545"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

var severityOrder = []schemas.Severity{
	schemas.SeverityCritical, schemas.SeverityHigh, schemas.SeverityMedium, schemas.SeverityLow, schemas.SeverityInfo,
}

// TextReporter prints a human-readable listing as each envelope arrives.
type TextReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	styled bool

	mu       sync.Mutex
	files    int
	insecure int
	total    int
}

// NewTextReporter creates a text reporter. styled enables terminal colors.
func NewTextReporter(writer io.WriteCloser, styled bool, logger *zap.Logger) *TextReporter {
	return &TextReporter{writer: writer, styled: styled, logger: logger.Named("text_reporter")}
}

func (r *TextReporter) render(style lipgloss.Style, s string) string {
	if !r.styled {
		return s
	}
	return style.Render(s)
}

func (r *TextReporter) Write(result *schemas.ResultEnvelope) error {
	if result == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files++
	r.total += len(result.Threats)

	var b strings.Builder
	status := r.render(styleSecure, "secure")
	if !result.IsSecure {
		r.insecure++
		status = r.render(severityStyles[schemas.SeverityCritical], "INSECURE")
	}
	fmt.Fprintf(&b, "%s: %s (%d threats, %.1fms)\n",
		r.render(styleFile, displayName(result.Filename)), status, len(result.Threats), result.Summary.AnalysisTimeMs)

	for _, t := range result.Threats {
		sev := r.render(severityStyles[t.Severity], fmt.Sprintf("%-8s", t.Severity))
		fmt.Fprintf(&b, "  %s %s %s [%s] %s\n", sev, t.ID, t.Location, t.Category, t.Message)
		if t.Evidence != "" {
			fmt.Fprintf(&b, "           %s\n", r.render(styleMuted, "evidence: "+t.Evidence))
		}
	}
	if counts := severityLine(result.Summary.BySeverity); counts != "" {
		fmt.Fprintf(&b, "  %s\n", r.render(styleMuted, counts))
	}
	if result.ParallelThreatCount != len(result.Threats) {
		fmt.Fprintf(&b, "  %s\n", r.render(styleMuted,
			fmt.Sprintf("parallel scan reported %d threats", result.ParallelThreatCount)))
	}
	if result.ParseErrors {
		fmt.Fprintf(&b, "  %s\n", r.render(styleMuted, "source contained syntax errors; analysis ran on the recovered tree"))
	}

	_, err := io.WriteString(r.writer, b.String())
	return err
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := fmt.Sprintf("\n%d file(s) analyzed, %d insecure, %d threat(s) total\n", r.files, r.insecure, r.total)
	_, writeErr := io.WriteString(r.writer, summary)
	closeErr := r.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write text summary: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func displayName(filename string) string {
	if filename == "" {
		return "<input>"
	}
	return filename
}

// severityLine renders "CRITICAL=1 HIGH=2" in severity order; unknown keys sort last.
func severityLine(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(counts))
	var parts []string
	for _, s := range severityOrder {
		if n, ok := counts[string(s)]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
			seen[string(s)] = true
		}
	}
	var rest []string
	for k := range counts {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
