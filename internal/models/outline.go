package models

// Methodology types accepted in Outline.Classification.
const (
	TypeDiagnostic = "diagnostic"
	TypePlanning   = "planning"
	TypeAnalysis   = "analysis"
	TypeStandard   = "standard"
)

// Canonical rule severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
	SeverityLow      = "low"
)

// AllowedSeverities is the closed rule severity enum.
var AllowedSeverities = map[string]bool{
	SeverityCritical: true,
	SeverityWarning:  true,
	SeverityInfo:     true,
	SeverityLow:      true,
}

// Outline is the extraction result for one source document.
// A nil Structure.Stages means the extractor produced no stage list at all.
type Outline struct {
	Metadata           OutlineMetadata    `yaml:"metadata" json:"metadata"`
	Title              string             `yaml:"title,omitempty" json:"title,omitempty"`
	Description        string             `yaml:"description,omitempty" json:"description,omitempty"`
	Tags               []string           `yaml:"tags,omitempty" json:"tags,omitempty"`
	Classification     Classification     `yaml:"classification" json:"classification"`
	Structure          Structure          `yaml:"structure" json:"structure"`
	GlossaryReferences GlossaryReferences `yaml:"glossary_references,omitempty" json:"glossary_references,omitempty"`
}

// OutlineMetadata describes how an outline was produced.
type OutlineMetadata struct {
	Agent      string `yaml:"agent,omitempty" json:"agent,omitempty"`
	Version    string `yaml:"version,omitempty" json:"version,omitempty"`
	Model      string `yaml:"model,omitempty" json:"model,omitempty"`
	Chunks     int    `yaml:"chunks,omitempty" json:"chunks,omitempty"`
	SourceFile string `yaml:"source_file,omitempty" json:"source_file,omitempty"`
}

// Classification holds the methodology type.
type Classification struct {
	MethodologyType string `yaml:"methodology_type" json:"methodology_type"`
	Domain          string `yaml:"domain,omitempty" json:"domain,omitempty"`
}

// Structure holds the four entity kinds of a methodology.
type Structure struct {
	Stages     []Stage     `yaml:"stages" json:"stages"`
	Tools      []Tool      `yaml:"tools,omitempty" json:"tools,omitempty"`
	Indicators []Indicator `yaml:"indicators,omitempty" json:"indicators,omitempty"`
	Rules      []Rule      `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Stage is one step of a methodology.
type Stage struct {
	ID          string `yaml:"id,omitempty" json:"id,omitempty"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Order       int    `yaml:"order" json:"order"`
}

// Tool is a working instrument used by a stage.
type Tool struct {
	ID          string   `yaml:"id,omitempty" json:"id,omitempty"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string   `yaml:"type,omitempty" json:"type,omitempty"`
	Stage       string   `yaml:"stage,omitempty" json:"stage,omitempty"`
	Terms       []string `yaml:"terms,omitempty" json:"terms,omitempty"`
}

// Indicator is a measurable value, optionally with a formula.
type Indicator struct {
	ID          string   `yaml:"id,omitempty" json:"id,omitempty"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Formula     string   `yaml:"formula,omitempty" json:"formula,omitempty"`
	Unit        string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	Stage       string   `yaml:"stage,omitempty" json:"stage,omitempty"`
	Terms       []string `yaml:"terms,omitempty" json:"terms,omitempty"`
}

// Rule is a decision rule with a severity.
type Rule struct {
	ID          string   `yaml:"id,omitempty" json:"id,omitempty"`
	Title       string   `yaml:"title,omitempty" json:"title,omitempty"`
	Description string   `yaml:"description" json:"description"`
	Severity    string   `yaml:"severity" json:"severity"`
	Stage       string   `yaml:"stage,omitempty" json:"stage,omitempty"`
	Terms       []string `yaml:"terms,omitempty" json:"terms,omitempty"`
}

// GlossaryReferences lists glossary terms mentioned by the methodology.
type GlossaryReferences struct {
	FoundTerms []FoundTerm `yaml:"found_terms,omitempty" json:"found_terms,omitempty"`
}

// FoundTerm is a single glossary mention.
type FoundTerm struct {
	TermID string `yaml:"term_id" json:"term_id"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
}

// HasStages reports whether the outline carries a stage list (possibly empty).
func (o *Outline) HasStages() bool {
	return o != nil && o.Structure.Stages != nil
}
