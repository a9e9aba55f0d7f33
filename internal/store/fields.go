package store

import (
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// TermFields converts a glossary term into store fields.
func TermFields(t models.GlossaryTerm) map[string]any {
	aliases := t.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	fields := map[string]any{
		"term_id":      t.ID,
		"name":         t.Name,
		"definition":   t.Definition,
		"aliases":      aliases,
		"tags":         tags,
		"status":       t.Status,
		"lineage":      LineageFields(t.Lineage),
		"content_hash": t.ContentHash,
	}
	if t.MergedInto != "" {
		fields["merged_into"] = t.MergedInto
	}
	return fields
}

// LineageFields converts lineage into a nested store object.
func LineageFields(l models.Lineage) map[string]any {
	return map[string]any{
		"repo":  l.Repo,
		"ref":   l.Ref,
		"path":  l.Path,
		"agent": l.Agent,
	}
}

// TermFromFields rebuilds a glossary term from store fields.
func TermFromFields(key string, f map[string]any) models.GlossaryTerm {
	str := func(k string) string {
		s, _ := f[k].(string)
		return s
	}
	t := models.GlossaryTerm{
		Key:         key,
		ID:          str("term_id"),
		Name:        str("name"),
		Definition:  str("definition"),
		Aliases:     stringList(f["aliases"]),
		Tags:        stringList(f["tags"]),
		Status:      str("status"),
		MergedInto:  str("merged_into"),
		ContentHash: str("content_hash"),
	}
	if lin, ok := f["lineage"].(map[string]any); ok {
		get := func(k string) string {
			s, _ := lin[k].(string)
			return s
		}
		t.Lineage = models.Lineage{Repo: get("repo"), Ref: get("ref"), Path: get("path"), Agent: get("agent")}
	}
	if ts, ok := f[FieldCreatedAt].(time.Time); ok {
		t.CreatedAt = &ts
	}
	if ts, ok := f[FieldUpdatedAt].(time.Time); ok {
		t.UpdatedAt = &ts
	}
	return t
}

func stringList(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
