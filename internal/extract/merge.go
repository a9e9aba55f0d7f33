package extract

import (
	"cmp"
	"slices"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// defaultType is used when no fragment names a known methodology type.
const defaultType = models.TypeAnalysis

var knownTypes = map[string]bool{
	models.TypeDiagnostic: true,
	models.TypePlanning:   true,
	models.TypeAnalysis:   true,
	models.TypeStandard:   true,
}

// mergeFragments folds per-chunk fragments into one outline. nil fragments
// are skipped. Stages keep document order: chunk position first, then the
// order the model gave within the chunk. Entities are deduplicated by
// normalized name, first occurrence wins.
func mergeFragments(bookID string, frags []*fragment) *models.Outline {
	o := &models.Outline{
		Classification: models.Classification{MethodologyType: methodologyType(frags)},
		Structure:      models.Structure{Stages: []models.Stage{}},
	}
	terms := newTermSet()

	stageIDs := map[string]string{}
	for _, f := range frags {
		if f == nil {
			continue
		}
		if o.Title == "" {
			o.Title = strings.TrimSpace(f.Title)
		}
		if o.Description == "" {
			o.Description = strings.TrimSpace(f.Description)
		}

		idx := make([]int, len(f.Stages))
		for i := range idx {
			idx[i] = i
		}
		slices.SortStableFunc(idx, func(a, b int) int {
			return cmp.Compare(localOrder(f.Stages[a].Order, a), localOrder(f.Stages[b].Order, b))
		})
		for _, i := range idx {
			s := f.Stages[i]
			key := models.NormalizeName(s.Title)
			if key == "" {
				continue
			}
			if _, dup := stageIDs[key]; dup {
				continue
			}
			n := len(o.Structure.Stages) + 1
			id := models.FormatID("stage", n)
			stageIDs[key] = id
			o.Structure.Stages = append(o.Structure.Stages, models.Stage{
				ID:          id,
				Title:       strings.TrimSpace(s.Title),
				Description: strings.TrimSpace(s.Description),
				Order:       n,
			})
		}
	}
	stageRef := func(title string) string {
		return stageIDs[models.NormalizeName(title)]
	}

	seenTools := map[string]bool{}
	seenInds := map[string]bool{}
	seenRules := map[string]bool{}
	for _, f := range frags {
		if f == nil {
			continue
		}
		for _, t := range f.Tools {
			key := models.NormalizeName(t.Title)
			if key == "" || seenTools[key] {
				continue
			}
			seenTools[key] = true
			o.Structure.Tools = append(o.Structure.Tools, models.Tool{
				ID:          models.FormatID("tool", len(o.Structure.Tools)+1),
				Title:       strings.TrimSpace(t.Title),
				Description: strings.TrimSpace(t.Description),
				Type:        strings.TrimSpace(t.Type),
				Stage:       stageRef(t.Stage),
				Terms:       terms.addAll(t.Terms),
			})
		}
		for _, ind := range f.Indicators {
			key := models.NormalizeName(ind.Name)
			if key == "" || seenInds[key] {
				continue
			}
			seenInds[key] = true
			o.Structure.Indicators = append(o.Structure.Indicators, models.Indicator{
				ID:          models.FormatID("ind", len(o.Structure.Indicators)+1),
				Name:        strings.TrimSpace(ind.Name),
				Description: strings.TrimSpace(ind.Description),
				Formula:     strings.TrimSpace(ind.Formula),
				Unit:        strings.TrimSpace(ind.Unit),
				Stage:       stageRef(ind.Stage),
				Terms:       terms.addAll(ind.Terms),
			})
		}
		for _, r := range f.Rules {
			desc := ruleDescription(r.Description, r.Condition, r.Action)
			key := models.NormalizeName(desc)
			if key == "" || seenRules[key] {
				continue
			}
			seenRules[key] = true
			o.Structure.Rules = append(o.Structure.Rules, models.Rule{
				ID:          models.FormatID("rule", len(o.Structure.Rules)+1),
				Title:       strings.TrimSpace(r.Title),
				Description: desc,
				Severity:    strings.ToLower(strings.TrimSpace(r.Severity)),
				Stage:       stageRef(r.Stage),
				Terms:       terms.addAll(r.Terms),
			})
		}
		terms.addAll(f.Terms)
	}

	if o.Title == "" {
		o.Title = bookID
	}
	o.GlossaryReferences.FoundTerms = terms.found
	return o
}

// localOrder sorts stages without an order after the ordered ones, keeping
// their position.
func localOrder(order, pos int) int {
	if order > 0 {
		return order
	}
	return 1<<20 + pos
}

func ruleDescription(desc, cond, action string) string {
	desc = strings.TrimSpace(desc)
	if desc != "" {
		return desc
	}
	cond, action = strings.TrimSpace(cond), strings.TrimSpace(action)
	switch {
	case cond != "" && action != "":
		return "If " + cond + ", then " + action
	case cond != "":
		return cond
	}
	return action
}

// methodologyType returns the most frequent known type; ties go to the one
// seen first.
func methodologyType(frags []*fragment) string {
	counts := map[string]int{}
	var order []string
	for _, f := range frags {
		if f == nil {
			continue
		}
		t := strings.ToLower(strings.TrimSpace(f.MethodologyType))
		if !knownTypes[t] {
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	best := defaultType
	bestN := 0
	for _, t := range order {
		if counts[t] > bestN {
			best, bestN = t, counts[t]
		}
	}
	return best
}

// termSet collects glossary references in first-seen order.
type termSet struct {
	seen  map[string]bool
	found []models.FoundTerm
}

func newTermSet() *termSet {
	return &termSet{seen: map[string]bool{}}
}

// addAll records names and returns their term ids.
func (s *termSet) addAll(names []string) []string {
	var ids []string
	for _, name := range names {
		id := models.NormalizeTermID(name)
		if id == "" {
			continue
		}
		ids = append(ids, id)
		if s.seen[id] {
			continue
		}
		s.seen[id] = true
		s.found = append(s.found, models.FoundTerm{TermID: id, Name: strings.TrimSpace(name)})
	}
	return ids
}
