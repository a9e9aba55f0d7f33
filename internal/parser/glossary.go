package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
	"gopkg.in/yaml.v3"
)

// LoadGlossary reads canonical glossary terms from a directory (recursively).
// Supported files:
//   - *.yaml / *.yml: a single term, a list of terms, or {terms: [...]}
//   - *.json: a list of terms or {terms: [...]}
//   - *.md: YAML frontmatter describing the term, body as definition
//
// Term ids are not normalized here; Lineage.Path records the source file.
func LoadGlossary(dir string) ([]models.GlossaryTerm, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json", ".md":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk glossary dir: %w", err)
	}
	sort.Strings(paths)

	var terms []models.GlossaryTerm
	for _, path := range paths {
		loaded, err := loadGlossaryFile(path)
		if err != nil {
			return nil, err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		for i := range loaded {
			loaded[i].Lineage.Path = filepath.ToSlash(rel)
		}
		terms = append(terms, loaded...)
	}
	return terms, nil
}

func loadGlossaryFile(path string) ([]models.GlossaryTerm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary file: %w", err)
	}

	var raw any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		doc := ParseMarkdown(string(data))
		if len(doc.Frontmatter) == 0 {
			return nil, nil
		}
		fm := doc.Frontmatter
		if _, ok := fm["definition"]; !ok {
			fm["definition"] = strings.TrimSpace(stripLeadingH1(doc.Content))
		}
		if _, ok := fm["name"]; !ok && doc.Title != "" {
			fm["name"] = doc.Title
		}
		raw = fm
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
	}

	var out []models.GlossaryTerm
	for _, item := range termItems(raw) {
		if t, ok := termFromMap(item); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// termItems flattens the accepted container shapes into term maps.
func termItems(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		if list, ok := v["terms"].([]any); ok {
			return termItems(list)
		}
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func termFromMap(m map[string]any) (models.GlossaryTerm, bool) {
	str := func(keys ...string) string {
		for _, k := range keys {
			if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}

	t := models.GlossaryTerm{
		ID:         str("term_id", "id"),
		Name:       str("name", "term", "title"),
		Definition: str("definition", "description", "body"),
		Aliases:    aliasList(m),
		Tags:       stringSlice(m["tags"]),
		Status:     str("status"),
	}
	if t.ID == "" {
		t.ID = t.Name
	}
	if t.ID == "" {
		return t, false
	}
	return t, true
}

// aliasList reads aliases, falling back to synonyms. A plain string is a
// comma-separated list.
func aliasList(m map[string]any) []string {
	v, ok := m["aliases"]
	if !ok || v == nil {
		v = m["synonyms"]
	}
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return stringSlice(v)
}

func stripLeadingH1(content string) string {
	trimmed := strings.TrimLeft(content, "\n")
	if strings.HasPrefix(trimmed, "# ") {
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			return trimmed[idx+1:]
		}
		return ""
	}
	return content
}
