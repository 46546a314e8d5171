// Package sarif holds the subset of the SARIF 2.1.0 object model that the
// analyzer emits. Pointers mark optional fields; required fields are values.
package sarif

const (
	Version = "2.1.0"
	Schema  = "https://json.schemastore.org/sarif-2.1.0.json"
)

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool      *Tool       `json:"tool"`
	Artifacts []*Artifact `json:"artifacts,omitempty"`
	Results   []*Result   `json:"results"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules,omitempty"`
}

type ReportingDescriptor struct {
	ID                   string                    `json:"id"`
	Name                 *string                   `json:"name,omitempty"`
	ShortDescription     *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription      *MultiformatMessageString `json:"fullDescription,omitempty"`
	DefaultConfiguration *Configuration            `json:"defaultConfiguration,omitempty"`
	Properties           PropertyBag               `json:"properties,omitempty"`
}

// Configuration carries a rule's default level.
type Configuration struct {
	Level Level `json:"level"`
}

// Artifact lists a scanned file once per run.
type Artifact struct {
	Location *ArtifactLocation `json:"location"`
}

type Result struct {
	RuleID    string      `json:"ruleId"`
	RuleIndex int         `json:"ruleIndex"`
	Message   *Message    `json:"message"`
	Level     Level       `json:"level,omitempty"`
	Locations []*Location `json:"locations,omitempty"`
	// PartialFingerprints let code scanning platforms track a result across runs.
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          PropertyBag       `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region positions are 1-based.
type Region struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
}

type Message struct {
	Text string `json:"text"`
}

type MultiformatMessageString struct {
	Text     string  `json:"text"`
	Markdown *string `json:"markdown,omitempty"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)
