package db

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/store"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// termRow is the stored shape of a glossary_term record.
type termRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	TermID      string                 `json:"term_id"`
	Name        string                 `json:"name"`
	Definition  string                 `json:"definition"`
	Aliases     []string               `json:"aliases"`
	Tags        []string               `json:"tags"`
	Status      string                 `json:"status"`
	MergedInto  *string                `json:"merged_into,omitempty"`
	Lineage     models.Lineage         `json:"lineage"`
	ContentHash string                 `json:"content_hash"`
	CreatedAt   *time.Time             `json:"created_at,omitempty"`
	UpdatedAt   *time.Time             `json:"updated_at,omitempty"`
}

func (r termRow) term() (models.GlossaryTerm, error) {
	key, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.GlossaryTerm{}, err
	}
	t := models.GlossaryTerm{
		Key:         key,
		ID:          r.TermID,
		Name:        r.Name,
		Definition:  r.Definition,
		Aliases:     r.Aliases,
		Tags:        r.Tags,
		Status:      r.Status,
		Lineage:     r.Lineage,
		ContentHash: r.ContentHash,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.MergedInto != nil {
		t.MergedInto = *r.MergedInto
	}
	return t, nil
}

// mergeable drops the fields the store owns so callers cannot overwrite them.
func mergeable(fields map[string]any) map[string]any {
	out := maps.Clone(fields)
	if out == nil {
		out = map[string]any{}
	}
	delete(out, "id")
	delete(out, "in")
	delete(out, "out")
	delete(out, store.FieldCreatedAt)
	delete(out, store.FieldUpdatedAt)
	for k, v := range out {
		// NONE unsets the field; NULL is rejected by option<> fields.
		if v == nil {
			out[k] = surrealmodels.None
		}
	}
	return out
}

const touchSQL = `
	UPDATE type::record($tb, $key) SET
		created_at = created_at ?? time::now(),
		updated_at = time::now()
	RETURN NONE;
`

// Exists reports whether a record with key exists in collection.
func (c *Client) Exists(ctx context.Context, collection, key string) (bool, error) {
	if !store.ValidName(collection) {
		return false, fmt.Errorf("%w: %q", store.ErrInvalidName, collection)
	}
	defer c.metrics.Time(metrics.OpDBQuery)()

	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db,
		`SELECT count() AS c FROM type::record($tb, $key)`,
		map[string]any{"tb": collection, "key": key})
	if err != nil {
		return false, fmt.Errorf("check exists: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}
	return (*results)[0].Result[0].C > 0, nil
}

// UpsertRecord merges fields into collection:key.
// created_at is set only when the record is new; updated_at always moves.
func (c *Client) UpsertRecord(ctx context.Context, collection, key string, fields map[string]any) (store.UpsertResult, error) {
	existed, err := c.Exists(ctx, collection, key)
	if err != nil {
		return store.UpsertResult{}, err
	}

	start := time.Now()
	sql := `UPSERT type::record($tb, $key) MERGE $fields RETURN NONE;` + touchSQL
	_, err = surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"tb":     collection,
		"key":    key,
		"fields": mergeable(fields),
	})
	if err != nil {
		c.metrics.RecordFailure(metrics.OpDBUpsert, time.Since(start))
		return store.UpsertResult{}, fmt.Errorf("upsert %s: %w", collection, wrapQueryError(err))
	}
	c.metrics.RecordTiming(metrics.OpDBUpsert, time.Since(start))
	return store.UpsertResult{Inserted: !existed}, nil
}

// UpsertEdge creates relation:key from fromColl:fromKey to toColl:toKey,
// or merges fields into it when it already exists. Endpoints of an existing
// edge are never rewritten.
func (c *Client) UpsertEdge(
	ctx context.Context,
	relation, fromColl, fromKey, toColl, toKey, key string,
	fields map[string]any,
) (store.UpsertResult, error) {
	for _, name := range []string{relation, fromColl, toColl} {
		if !store.ValidName(name) {
			return store.UpsertResult{}, fmt.Errorf("%w: %q", store.ErrInvalidName, name)
		}
	}
	existed, err := c.Exists(ctx, relation, key)
	if err != nil {
		return store.UpsertResult{}, err
	}

	start := time.Now()
	vars := map[string]any{"tb": relation, "key": key}
	var sql string
	if existed {
		sql = `UPDATE type::record($tb, $key) MERGE $fields RETURN NONE;` + touchSQL
		vars["fields"] = mergeable(fields)
	} else {
		content := mergeable(fields)
		content["id"] = key
		content["in"] = surrealmodels.NewRecordID(fromColl, fromKey)
		content["out"] = surrealmodels.NewRecordID(toColl, toKey)
		// INSERT RELATION cannot take the table as a parameter; relation is
		// validated above.
		sql = fmt.Sprintf(`INSERT RELATION INTO %s $content RETURN NONE;`, relation) + touchSQL
		vars["content"] = content
	}

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		c.metrics.RecordFailure(metrics.OpDBUpsert, time.Since(start))
		return store.UpsertResult{}, fmt.Errorf("upsert edge %s: %w", relation, wrapQueryError(err))
	}
	c.metrics.RecordTiming(metrics.OpDBUpsert, time.Since(start))
	return store.UpsertResult{Inserted: !existed}, nil
}

// GetTerm retrieves a glossary term by record key.
// Returns nil if not found.
func (c *Client) GetTerm(ctx context.Context, key string) (*models.GlossaryTerm, error) {
	defer c.metrics.Time(metrics.OpDBQuery)()

	results, err := surrealdb.Query[[]termRow](ctx, c.db,
		`SELECT * FROM type::record($tb, $key)`,
		map[string]any{"tb": store.CollTerm, "key": key})
	if err != nil {
		return nil, fmt.Errorf("get term: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	t, err := (*results)[0].Result[0].term()
	if err != nil {
		return nil, fmt.Errorf("get term: %w", err)
	}
	return &t, nil
}

// ListTerms returns glossary terms ordered by key, optionally filtered by status.
func (c *Client) ListTerms(ctx context.Context, status string) ([]models.GlossaryTerm, error) {
	defer c.metrics.Time(metrics.OpDBQuery)()

	sql := `SELECT * FROM glossary_term ORDER BY id`
	vars := map[string]any{}
	if status != "" {
		sql = `SELECT * FROM glossary_term WHERE status = $status ORDER BY id`
		vars["status"] = status
	}

	results, err := surrealdb.Query[[]termRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.GlossaryTerm{}, nil
	}

	rows := (*results)[0].Result
	terms := make([]models.GlossaryTerm, 0, len(rows))
	for _, row := range rows {
		t, err := row.term()
		if err != nil {
			return nil, fmt.Errorf("list terms: %w", err)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// MarkMerged flags a term as merged into another.
func (c *Client) MarkMerged(ctx context.Context, key, into string) error {
	defer c.metrics.Time(metrics.OpDBUpsert)()

	results, err := surrealdb.Query[[]termRow](ctx, c.db, `
		UPDATE type::record($tb, $key) SET
			status = $status,
			merged_into = $into,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{"tb": store.CollTerm, "key": key, "status": models.TermMerged, "into": into})
	if err != nil {
		return fmt.Errorf("mark merged: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("mark merged %s: %w", key, ErrNotFound)
	}
	return nil
}

// SetEmbedding stores vec and the hash of the text it was computed from.
func (c *Client) SetEmbedding(ctx context.Context, collection, key, hash string, vec []float32) error {
	if !store.ValidName(collection) {
		return fmt.Errorf("%w: %q", store.ErrInvalidName, collection)
	}
	defer c.metrics.Time(metrics.OpDBUpsert)()

	results, err := surrealdb.Query[[]struct {
		ID surrealmodels.RecordID `json:"id"`
	}](ctx, c.db, `
		UPDATE type::record($tb, $key) SET
			embedding = $vec,
			embedding_hash = $hash
		RETURN id
	`, map[string]any{"tb": collection, "key": key, "vec": vec, "hash": hash})
	if err != nil {
		return fmt.Errorf("set embedding: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("set embedding %s:%s: %w", collection, key, ErrNotFound)
	}
	return nil
}

// Embedding returns the stored embedding and its source hash, if any.
func (c *Client) Embedding(ctx context.Context, collection, key string) (string, []float32, error) {
	if !store.ValidName(collection) {
		return "", nil, fmt.Errorf("%w: %q", store.ErrInvalidName, collection)
	}
	defer c.metrics.Time(metrics.OpDBQuery)()

	results, err := surrealdb.Query[[]struct {
		Hash      *string   `json:"embedding_hash"`
		Embedding []float32 `json:"embedding"`
	}](ctx, c.db,
		`SELECT embedding_hash, embedding FROM type::record($tb, $key)`,
		map[string]any{"tb": collection, "key": key})
	if err != nil {
		return "", nil, fmt.Errorf("get embedding: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", nil, nil
	}
	row := (*results)[0].Result[0]
	if row.Hash == nil {
		return "", nil, nil
	}
	return *row.Hash, row.Embedding, nil
}
