package glossary

import (
	"slices"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// Merge normalizes term ids and folds records that resolve to the same id.
// Aliases and tags are unioned and sorted; the first non-empty name and
// definition win; status and lineage come from the first record.
// The result is sorted by id. dupes counts the folded records.
func Merge(terms []models.GlossaryTerm) (merged []models.GlossaryTerm, dupes int) {
	byID := map[string]*models.GlossaryTerm{}
	for _, t := range terms {
		id := models.NormalizeTermID(t.ID)
		if id == "" {
			id = models.NormalizeTermID(t.Name)
		}
		if id == "" {
			continue
		}

		cur, ok := byID[id]
		if !ok {
			t.ID = id
			t.Key = id
			t.Aliases = slices.Clone(t.Aliases)
			t.Tags = slices.Clone(t.Tags)
			byID[id] = &t
			continue
		}

		dupes++
		if cur.Name == "" {
			cur.Name = t.Name
		}
		if cur.Definition == "" {
			cur.Definition = t.Definition
		}
		cur.Aliases = append(cur.Aliases, t.Aliases...)
		cur.Tags = append(cur.Tags, t.Tags...)
	}

	merged = make([]models.GlossaryTerm, 0, len(byID))
	for _, t := range byID {
		t.Aliases = union(t.Aliases)
		t.Tags = union(t.Tags)
		if t.Name == "" {
			t.Name = t.ID
		}
		t.ContentHash = models.ContentHash(t.ID, t.Name, t.Definition,
			strings.Join(t.Aliases, " "), strings.Join(t.Tags, " "))
		merged = append(merged, *t)
	}
	slices.SortFunc(merged, func(a, b models.GlossaryTerm) int {
		return strings.Compare(a.ID, b.ID)
	})
	return merged, dupes
}

func union(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
