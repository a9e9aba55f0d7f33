// Package store defines the graph-store contract used by the publisher,
// glossary sync and the semantic linker.
package store

import (
	"context"
	"errors"
	"regexp"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// Collections.
const (
	CollMethodology = "methodology"
	CollStage       = "stage"
	CollTool        = "tool"
	CollIndicator   = "indicator"
	CollRule        = "rule"
	CollTerm        = "glossary_term"
)

// Relations.
const (
	RelHasStage            = "methodology_has_stage"
	RelUsesTool            = "stage_uses_tool"
	RelUsesIndicator       = "stage_uses_indicator"
	RelHasRule             = "stage_has_rule"
	RelUsesTerm            = "uses_term"
	RelSemanticallyRelated = "semantically_related"
)

// Fields written by the store itself.
const (
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidName indicates a collection or relation name that is not a
// plain identifier.
var ErrInvalidName = errors.New("invalid collection name")

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidName reports whether name can be used as a collection or relation.
func ValidName(name string) bool {
	return identPattern.MatchString(name)
}

// UpsertResult reports whether an upsert created the record.
type UpsertResult struct {
	Inserted bool
}

// Store is an idempotent, key-addressed graph store. Upserts set
// created_at only on insert and always bump updated_at. A nil field value
// removes that field from the record. Nothing in the contract deletes
// records.
type Store interface {
	UpsertRecord(ctx context.Context, collection, key string, fields map[string]any) (UpsertResult, error)
	UpsertEdge(ctx context.Context, relation, fromColl, fromKey, toColl, toKey, key string, fields map[string]any) (UpsertResult, error)
	Exists(ctx context.Context, collection, key string) (bool, error)

	// GetTerm returns nil when the term does not exist.
	GetTerm(ctx context.Context, key string) (*models.GlossaryTerm, error)
	// ListTerms returns all terms, or only those with status when it is non-empty,
	// sorted by key.
	ListTerms(ctx context.Context, status string) ([]models.GlossaryTerm, error)
	// MarkMerged sets status=merged and merged_into on a term.
	MarkMerged(ctx context.Context, key, into string) error

	SetEmbedding(ctx context.Context, collection, key, hash string, vec []float32) error
	// Embedding returns the stored vector and the content hash it was computed
	// from. Both are empty when nothing is stored.
	Embedding(ctx context.Context, collection, key string) (string, []float32, error)
}
