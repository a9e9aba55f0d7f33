package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// Edge is an edge as held by Memory.
type Edge struct {
	Relation string
	FromColl string
	FromKey  string
	ToColl   string
	ToKey    string
	Fields   map[string]any
}

type embedding struct {
	hash string
	vec  []float32
}

// Memory is an in-memory Store with the same upsert-by-key contract as
// the SurrealDB implementation.
type Memory struct {
	mu         sync.RWMutex
	records    map[string]map[string]map[string]any
	edges      map[string]map[string]*Edge
	embeddings map[string]embedding
	now        func() time.Time

	// FailOn makes the named operation ("upsert_record", "upsert_edge", ...)
	// return the error. Tests use it to simulate an unreachable store.
	FailOn map[string]error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:    map[string]map[string]map[string]any{},
		edges:      map[string]map[string]*Edge{},
		embeddings: map[string]embedding{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) fail(op string) error {
	if err, ok := m.FailOn[op]; ok {
		return err
	}
	return nil
}

// UpsertRecord implements Store.
func (m *Memory) UpsertRecord(_ context.Context, collection, key string, fields map[string]any) (UpsertResult, error) {
	if err := m.fail("upsert_record"); err != nil {
		return UpsertResult{}, err
	}
	if !ValidName(collection) {
		return UpsertResult{}, fmt.Errorf("%w: %q", ErrInvalidName, collection)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.records[collection]
	if coll == nil {
		coll = map[string]map[string]any{}
		m.records[collection] = coll
	}
	now := m.now()
	rec, exists := coll[key]
	if !exists {
		rec = map[string]any{FieldCreatedAt: now}
		coll[key] = rec
	}
	for k, v := range fields {
		if k == FieldCreatedAt {
			continue
		}
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
	rec[FieldUpdatedAt] = now
	return UpsertResult{Inserted: !exists}, nil
}

// UpsertEdge implements Store.
func (m *Memory) UpsertEdge(_ context.Context, relation, fromColl, fromKey, toColl, toKey, key string, fields map[string]any) (UpsertResult, error) {
	if err := m.fail("upsert_edge"); err != nil {
		return UpsertResult{}, err
	}
	for _, name := range []string{relation, fromColl, toColl} {
		if !ValidName(name) {
			return UpsertResult{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rel := m.edges[relation]
	if rel == nil {
		rel = map[string]*Edge{}
		m.edges[relation] = rel
	}
	now := m.now()
	e, exists := rel[key]
	if !exists {
		e = &Edge{Relation: relation, Fields: map[string]any{FieldCreatedAt: now}}
		rel[key] = e
	}
	e.FromColl, e.FromKey, e.ToColl, e.ToKey = fromColl, fromKey, toColl, toKey
	for k, v := range fields {
		if k == FieldCreatedAt {
			continue
		}
		e.Fields[k] = v
	}
	e.Fields[FieldUpdatedAt] = now
	return UpsertResult{Inserted: !exists}, nil
}

// Exists implements Store.
func (m *Memory) Exists(_ context.Context, collection, key string) (bool, error) {
	if err := m.fail("exists"); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[collection][key]
	return ok, nil
}

// GetTerm implements Store.
func (m *Memory) GetTerm(_ context.Context, key string) (*models.GlossaryTerm, error) {
	if err := m.fail("get_term"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[CollTerm][key]
	if !ok {
		return nil, nil
	}
	t := TermFromFields(key, rec)
	return &t, nil
}

// ListTerms implements Store.
func (m *Memory) ListTerms(_ context.Context, status string) ([]models.GlossaryTerm, error) {
	if err := m.fail("list_terms"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(m.records[CollTerm]))
	out := []models.GlossaryTerm{}
	for _, key := range keys {
		t := TermFromFields(key, m.records[CollTerm][key])
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// MarkMerged implements Store.
func (m *Memory) MarkMerged(_ context.Context, key, into string) error {
	if err := m.fail("mark_merged"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[CollTerm][key]
	if !ok {
		return fmt.Errorf("mark merged %s: %w", key, ErrNotFound)
	}
	rec["status"] = models.TermMerged
	rec["merged_into"] = into
	rec[FieldUpdatedAt] = m.now()
	return nil
}

// SetEmbedding implements Store.
func (m *Memory) SetEmbedding(_ context.Context, collection, key, hash string, vec []float32) error {
	if err := m.fail("set_embedding"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[collection][key]; !ok {
		return fmt.Errorf("set embedding %s:%s: %w", collection, key, ErrNotFound)
	}
	m.embeddings[collection+":"+key] = embedding{hash: hash, vec: slices.Clone(vec)}
	return nil
}

// Embedding implements Store.
func (m *Memory) Embedding(_ context.Context, collection, key string) (string, []float32, error) {
	if err := m.fail("embedding"); err != nil {
		return "", nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.embeddings[collection+":"+key]
	return e.hash, e.vec, nil
}

// Record returns a copy of a stored record, or nil.
func (m *Memory) Record(collection, key string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[collection][key]
	if !ok {
		return nil
	}
	return maps.Clone(rec)
}

// Edges returns the edges of a relation sorted by key.
func (m *Memory) Edges(relation string) []Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(m.edges[relation]))
	out := make([]Edge, 0, len(keys))
	for _, k := range keys {
		e := *m.edges[relation][k]
		e.Fields = maps.Clone(e.Fields)
		out = append(out, e)
	}
	return out
}

// Count returns the number of records in a collection or edges in a relation.
func (m *Memory) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[name]) + len(m.edges[name])
}
