package models

import "time"

// Issue severities shared by the quality gate and the reviewer.
const (
	IssueBlocker = "BLOCKER"
	IssueMajor   = "MAJOR"
	IssueMinor   = "MINOR"
)

// Evidence points at the offending location of an issue.
type Evidence struct {
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Pointer string `json:"pointer,omitempty" yaml:"pointer,omitempty"`
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`
}

// Issue is a single review finding.
type Issue struct {
	ID       string   `json:"id" yaml:"id"`
	Severity string   `json:"severity" yaml:"severity"`
	Category string   `json:"category" yaml:"category"`
	Message  string   `json:"message" yaml:"message"`
	Evidence Evidence `json:"evidence" yaml:"evidence"`
	FixHint  string   `json:"fix_hint,omitempty" yaml:"fix_hint,omitempty"`
}

// QAStats summarizes a review.
type QAStats struct {
	Blockers         int     `json:"blockers"`
	Majors           int     `json:"majors"`
	Minors           int     `json:"minors"`
	GlossaryCoverage float64 `json:"glossary_coverage"`
	FormulaRatio     float64 `json:"formula_checks_passed"`
}

// QAReport is the reviewer's verdict on a compiled methodology.
type QAReport struct {
	MethodologyID string    `json:"methodology_id"`
	Approved      bool      `json:"approved"`
	Score         int       `json:"score"`
	SchemaOK      bool      `json:"schema_ok"`
	LLMUsed       bool      `json:"llm_used"`
	Issues        []Issue   `json:"issues"`
	Strengths     []string  `json:"strengths"`
	Stats         QAStats   `json:"stats"`
	ReviewedAt    time.Time `json:"reviewed_at"`
}

// CountSeverity counts issues with the given severity.
func CountSeverity(issues []Issue, severity string) int {
	n := 0
	for _, it := range issues {
		if it.Severity == severity {
			n++
		}
	}
	return n
}
