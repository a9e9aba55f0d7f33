package models

// Counts tracks inserts and updates for one collection or relation.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// PublishReport summarizes one publish run.
type PublishReport struct {
	MethodologyID string            `json:"methodology_id"`
	Collections   map[string]Counts `json:"collections"`
	Edges         map[string]Counts `json:"edges"`
	StubsCreated  []string          `json:"stubs_created"`
	Warnings      int               `json:"warnings"`
	QAWarnings    []Issue           `json:"qa_warnings"`
	SkippedQA     bool              `json:"skipped_qa"`
}

// NewPublishReport returns an empty report for a methodology.
func NewPublishReport(methodologyID string) *PublishReport {
	return &PublishReport{
		MethodologyID: methodologyID,
		Collections:   map[string]Counts{},
		Edges:         map[string]Counts{},
		StubsCreated:  []string{},
		QAWarnings:    []Issue{},
	}
}

// Inserted returns the total number of inserted records and edges.
func (r *PublishReport) Inserted() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Inserted
	}
	for _, c := range r.Edges {
		n += c.Inserted
	}
	return n
}
