package schemas

// -- Threat Schemas --

// Severity is the report form of a threat level. The values are upper case to
// match the analyzer's level names and the database ENUM.
type Severity string

// Constants defining the standard severity levels for threats.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// IsBlocking reports whether the severity fails a security gate.
func (s Severity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Threat is a single finding as written to reports and the `threats` table.
type Threat struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// Rule names the pattern or sink rule that matched.
	Rule       string  `json:"rule"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Filename   string  `json:"filename"`
	Line       int     `json:"line"`
	Column     int     `json:"column"`
	Location   string  `json:"location"`
	Evidence   string  `json:"evidence,omitempty"`
	Correlated bool    `json:"correlated"`
}
