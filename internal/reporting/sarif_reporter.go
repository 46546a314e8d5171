// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/duns-scotus/mlpy-sub002/api/schemas"
	"github.com/duns-scotus/mlpy-sub002/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "mlsec"
	ToolInfoURI = "https://github.com/duns-scotus/mlpy-sub002"
	RulePrefix  = "MLSEC-"
)

// ruleIDSanitizer collapses anything outside [A-Za-z0-9_.] into one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter implements Reporter for SARIF 2.1.0. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log

	mu sync.Mutex
	// rulesByKey maps "category|rule" to its index in the driver's rule list.
	rulesByKey  map[string]int
	ruleIDUsage map[string]int
	artifacts   map[string]bool
}

// NewSARIFReporter creates a reporter that owns writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: sarif.Version,
		Schema:  sarif.Schema,
		Runs: []*sarif.Run{{
			Tool: &sarif.Tool{
				Driver: &sarif.ToolComponent{
					Name:           ToolName,
					Version:        pString(toolVersion),
					InformationURI: pString(ToolInfoURI),
					Rules:          []*sarif.ReportingDescriptor{},
				},
			},
			Results: []*sarif.Result{},
		}},
	}
	return &SARIFReporter{
		writer:      writer,
		logger:      logger.Named("sarif_reporter"),
		log:         log,
		rulesByKey:  make(map[string]int),
		ruleIDUsage: make(map[string]int),
		artifacts:   make(map[string]bool),
	}
}

// Write converts each threat in result into a SARIF result.
func (r *SARIFReporter) Write(result *schemas.ResultEnvelope) error {
	if result == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	if result.Filename != "" && !r.artifacts[result.Filename] {
		r.artifacts[result.Filename] = true
		run.Artifacts = append(run.Artifacts, &sarif.Artifact{Location: &sarif.ArtifactLocation{URI: result.Filename}})
	}

	for _, threat := range result.Threats {
		index := r.ensureRule(threat)
		res := &sarif.Result{
			RuleID:    run.Tool.Driver.Rules[index].ID,
			RuleIndex: index,
			Message:   &sarif.Message{Text: threat.Message},
			Level:     levelFor(threat.Severity),
			Locations: locationsFor(result.Filename, threat),
			PartialFingerprints: map[string]string{
				"mlsecThreat/v1": fingerprint(result.Filename, threat),
			},
			Properties: sarif.PropertyBag{
				"confidence": threat.Confidence,
				"source":     threat.Source,
				"correlated": threat.Correlated,
				"runId":      result.RunID.String(),
			},
		}
		run.Results = append(run.Results, res)
	}
	return nil
}

// Close serializes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encodeErr := json.NewEncoder(r.writer).Encode(r.log)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote SARIF report", zap.Duration("duration", time.Since(start)))
	return nil
}

func sanitizeRuleName(name string) string {
	s := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if s == "" {
		return "UNNAMED-RULE"
	}
	return s
}

// ensureRule returns the index of the rule describing threat, registering it
// on first use. The same rule name under two categories gets a numbered suffix.
// Caller holds r.mu.
func (r *SARIFReporter) ensureRule(threat schemas.Threat) int {
	key := threat.Category + "|" + threat.Rule
	if idx, ok := r.rulesByKey[key]; ok {
		return idx
	}

	base := RulePrefix + sanitizeRuleName(threat.Rule)
	usage := r.ruleIDUsage[base]
	r.ruleIDUsage[base] = usage + 1
	id := base
	if usage > 0 {
		id = base + "-" + strconv.Itoa(usage)
	}

	driver := r.log.Runs[0].Tool.Driver
	title := strings.ReplaceAll(strings.ToLower(threat.Category), "_", " ")
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:                   id,
		Name:                 pString(threat.Rule),
		ShortDescription:     &sarif.MultiformatMessageString{Text: fmt.Sprintf("%s (%s)", title, threat.Rule)},
		FullDescription:      &sarif.MultiformatMessageString{Text: threat.Message},
		DefaultConfiguration: &sarif.Configuration{Level: levelFor(threat.Severity)},
		Properties: sarif.PropertyBag{
			"tags":     []string{"security", strings.ToLower(threat.Category)},
			"category": threat.Category,
		},
	})
	idx := len(driver.Rules) - 1
	r.rulesByKey[key] = idx
	return idx
}

func locationsFor(filename string, threat schemas.Threat) []*sarif.Location {
	uri := threat.Filename
	if uri == "" {
		uri = filename
	}
	if uri == "" {
		return nil
	}
	loc := &sarif.PhysicalLocation{ArtifactLocation: &sarif.ArtifactLocation{URI: uri}}
	if threat.Line > 0 {
		loc.Region = &sarif.Region{StartLine: threat.Line, StartColumn: threat.Column}
	}
	return []*sarif.Location{{PhysicalLocation: loc}}
}

// fingerprint is stable across runs for the same finding at the same place.
func fingerprint(filename string, threat schemas.Threat) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		filename, threat.Category, threat.Rule, strconv.Itoa(threat.Line),
	}, "\x00")))
	return hex.EncodeToString(h[:16])
}

func levelFor(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return sarif.LevelError
	case schemas.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

func pString(s string) *string {
	return &s
}
