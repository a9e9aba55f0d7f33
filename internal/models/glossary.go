package models

import "time"

// Glossary term statuses.
const (
	TermActive          = "active"
	TermDeprecated      = "deprecated"
	TermNeedsDefinition = "needs_definition"
	TermDraft           = "draft"
	TermMerged          = "merged"
)

// StubKeyPrefix prefixes the record key of every stub term so canonical
// upserts never land on a stub.
const StubKeyPrefix = "stub_"

// Lineage records where a graph record came from.
type Lineage struct {
	Repo  string `json:"repo"`
	Ref   string `json:"ref"`
	Path  string `json:"path"`
	Agent string `json:"agent"`
}

// GlossaryTerm is a canonical or stub glossary record.
// For stubs Key is StubKeyPrefix+ID; for canonical terms Key equals ID.
type GlossaryTerm struct {
	Key         string     `json:"key" yaml:"-"`
	ID          string     `json:"term_id" yaml:"term_id"`
	Name        string     `json:"name" yaml:"name"`
	Definition  string     `json:"definition" yaml:"definition"`
	Aliases     []string   `json:"aliases" yaml:"aliases,omitempty"`
	Tags        []string   `json:"tags" yaml:"tags,omitempty"`
	Status      string     `json:"status" yaml:"status,omitempty"`
	MergedInto  string     `json:"merged_into,omitempty" yaml:"merged_into,omitempty"`
	Lineage     Lineage    `json:"lineage" yaml:"-"`
	ContentHash string     `json:"content_hash,omitempty" yaml:"-"`
	CreatedAt   *time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// IsStub reports whether the term is an unresolved placeholder.
func (t GlossaryTerm) IsStub() bool {
	return t.Status == TermNeedsDefinition
}

// StubKey returns the record key used for a stub of termID.
func StubKey(termID string) string {
	return StubKeyPrefix + termID
}
