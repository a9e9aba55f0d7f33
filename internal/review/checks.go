package review

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/compile"
	"github.com/raphaelgruber/methodkb/internal/models"
)

// Issue categories.
const (
	CategorySchema       = "schema"
	CategoryIDs          = "ids"
	CategoryDocs         = "docs"
	CategoryGlossary     = "glossary"
	CategoryFormula      = "formula"
	CategoryDuplicates   = "duplicates"
	CategoryStageOrder   = "stage_order"
	CategoryCompleteness = "completeness"
	CategoryReasoning    = "reasoning"
)

const (
	emptyFormulaLimit  = 0.7
	readmeBlockerBelow = 0.5
	readmeMajorBelow   = 0.8
	snippetLimit       = 120
)

var (
	idPatterns = []struct {
		kind       string
		collection string
		pattern    *regexp.Regexp
	}{
		{"stage", "stages", regexp.MustCompile(`^stage_\d{3}$`)},
		{"tool", "tools", regexp.MustCompile(`^tool_\d{3}$`)},
		{"ind", "indicators", regexp.MustCompile(`^ind_\d{3}$`)},
		{"rule", "rules", regexp.MustCompile(`^rule_\d{3}$`)},
	}

	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	definitionLike = regexp.MustCompile(`\b(ratio|margin|roi|roa|roe|turnover)\b`)
)

func issueID(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) > snippetLimit {
		return string(r[:snippetLimit])
	}
	return s
}

func schemaIssues(fields []FieldError, recordPath string) []models.Issue {
	issues := make([]models.Issue, 0, len(fields))
	for i, f := range fields {
		issues = append(issues, models.Issue{
			ID:       issueID("SCHEMA", i+1),
			Severity: models.IssueBlocker,
			Category: CategorySchema,
			Message:  f.Message,
			Evidence: models.Evidence{Path: recordPath, Pointer: f.Pointer()},
			FixHint:  "Fix the compiler output or the schema mismatch.",
		})
	}
	return issues
}

func entityIDs(c *models.CompiledMethodology, collection string) []string {
	var ids []string
	switch collection {
	case "stages":
		for _, s := range c.Structure.Stages {
			ids = append(ids, s.ID)
		}
	case "tools":
		for _, t := range c.Structure.Tools {
			ids = append(ids, t.ID)
		}
	case "indicators":
		for _, ind := range c.Structure.Indicators {
			ids = append(ids, ind.ID)
		}
	case "rules":
		for _, r := range c.Structure.Rules {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func checkIDs(c *models.CompiledMethodology) []models.Issue {
	var issues []models.Issue
	for _, p := range idPatterns {
		kind := strings.ToUpper(p.kind)
		seen := map[string]bool{}
		for i, id := range entityIDs(c, p.collection) {
			pointer := fmt.Sprintf("/structure/%s/%d", p.collection, i)
			if !p.pattern.MatchString(id) {
				issues = append(issues, models.Issue{
					ID:       issueID("ID-"+kind, i+1),
					Severity: models.IssueMajor,
					Category: CategoryIDs,
					Message:  fmt.Sprintf("Invalid %s id: '%s'", p.kind, id),
					Evidence: models.Evidence{Pointer: pointer},
					FixHint:  fmt.Sprintf("Ensure %s ids follow pattern %s", p.kind, p.pattern),
				})
			}
			if seen[id] {
				issues = append(issues, models.Issue{
					ID:       issueID("ID-DUP-"+kind, i+1),
					Severity: models.IssueBlocker,
					Category: CategoryIDs,
					Message:  fmt.Sprintf("Duplicate %s id: '%s'", p.kind, id),
					Evidence: models.Evidence{Pointer: pointer},
					FixHint:  "Ensure ids are unique; re-run compile.",
				})
			}
			seen[id] = true
		}
	}
	return issues
}

// checkDocs verifies the rendered document set against the record.
// A missing README stops further docs checks.
func checkDocs(c *models.CompiledMethodology, docsDir string) []models.Issue {
	readme := filepath.Join(docsDir, compile.ReadmeFile)
	if _, err := os.Stat(readme); err != nil {
		return []models.Issue{{
			ID:       "DOCS-001",
			Severity: models.IssueBlocker,
			Category: CategoryDocs,
			Message:  "README.md not found for methodology docs.",
			Evidence: models.Evidence{Path: readme},
			FixHint:  "Run compile to generate the methodology README.",
		}}
	}

	stages := c.Structure.Stages
	if len(stages) == 0 {
		return nil
	}
	stageDir := filepath.Join(docsDir, compile.StagesDir)
	if info, err := os.Stat(stageDir); err != nil || !info.IsDir() {
		return []models.Issue{{
			ID:       "DOCS-002",
			Severity: models.IssueBlocker,
			Category: CategoryDocs,
			Message:  "Stages directory missing.",
			Evidence: models.Evidence{Path: stageDir},
			FixHint:  "Run compile to generate stage documents.",
		}}
	}

	files, _ := filepath.Glob(filepath.Join(stageDir, "stage_*.md"))
	if len(files) != len(stages) {
		return []models.Issue{{
			ID:       "DOCS-003",
			Severity: models.IssueMajor,
			Category: CategoryDocs,
			Message:  fmt.Sprintf("Stages docs count mismatch: yaml=%d files=%d", len(stages), len(files)),
			Evidence: models.Evidence{Path: stageDir},
			FixHint:  "Re-run compile; stage ids and file names must match.",
		}}
	}
	return nil
}

// checkGlossary returns the issues and the found-term coverage ratio.
// Without a glossary there is nothing to check and coverage is 1.
func checkGlossary(c *models.CompiledMethodology, glossary map[string]bool) ([]models.Issue, float64) {
	if glossary == nil {
		return nil, 1.0
	}

	var issues []models.Issue
	total, ok := 0, 0
	for i, ft := range c.GlossaryReferences.FoundTerms {
		if ft.TermID == "" {
			continue
		}
		total++
		if glossary[ft.TermID] {
			ok++
			continue
		}
		issues = append(issues, models.Issue{
			ID:       issueID("GLOSS", i+1),
			Severity: models.IssueBlocker,
			Category: CategoryGlossary,
			Message:  fmt.Sprintf("Glossary term_id not found: '%s'", ft.TermID),
			Evidence: models.Evidence{Pointer: fmt.Sprintf("/glossary_references/found_terms/%d/term_id", i)},
			FixHint:  "Add the term to the glossary or use an existing term_id.",
		})
	}
	if total == 0 {
		return issues, 1.0
	}
	return issues, float64(ok) / float64(total)
}

// checkFormulas runs syntax checks on non-empty formulas and returns the
// share of checked formulas that passed.
func checkFormulas(c *models.CompiledMethodology) ([]models.Issue, float64) {
	var issues []models.Issue
	checked, passed := 0, 0

	for i, ind := range c.Structure.Indicators {
		formula := strings.TrimSpace(ind.Formula)
		if formula == "" {
			continue
		}
		checked++
		ev := models.Evidence{
			Pointer: fmt.Sprintf("/structure/indicators/%d/formula", i),
			Snippet: snippet(formula),
		}

		if controlChars.MatchString(formula) {
			issues = append(issues, models.Issue{
				ID:       issueID("FORM", i+1),
				Severity: models.IssueMajor,
				Category: CategoryFormula,
				Message:  "Formula contains control characters.",
				Evidence: ev,
				FixHint:  "Clean the extracted formula text.",
			})
			continue
		}

		if !balancedParens(formula) {
			issues = append(issues, models.Issue{
				ID:       issueID("FORM-PAREN", i+1),
				Severity: models.IssueMajor,
				Category: CategoryFormula,
				Message:  "Unbalanced parentheses in formula.",
				Evidence: ev,
				FixHint:  "Fix parentheses or extraction errors.",
			})
			continue
		}

		if definitionLike.MatchString(strings.ToLower(formula)) && !strings.Contains(formula, "=") {
			issues = append(issues, models.Issue{
				ID:       issueID("FORM-EQ", i+1),
				Severity: models.IssueMinor,
				Category: CategoryFormula,
				Message:  "Formula looks like a definition but '=' is missing.",
				Evidence: ev,
				FixHint:  "Write definitions as 'X = ...'.",
			})
		}
		passed++
	}

	if checked == 0 {
		return issues, 1.0
	}
	return issues, float64(passed) / float64(checked)
}

func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// duplicateGroups returns, in first-seen order, the positions of values
// that occur more than once.
func duplicateGroups(values []string) (keys []string, groups [][]int) {
	positions := map[string][]int{}
	var order []string
	for i, v := range values {
		if v == "" {
			continue
		}
		if _, ok := positions[v]; !ok {
			order = append(order, v)
		}
		positions[v] = append(positions[v], i)
	}
	for _, k := range order {
		if len(positions[k]) > 1 {
			keys = append(keys, k)
			groups = append(groups, positions[k])
		}
	}
	return keys, groups
}

func formatIDs(prefix string, idx []int) string {
	ids := make([]string, len(idx))
	for i, n := range idx {
		ids[i] = models.FormatID(prefix, n+1)
	}
	return strings.Join(ids, ", ")
}

func checkDuplicateIndicators(c *models.CompiledMethodology) []models.Issue {
	names := make([]string, len(c.Structure.Indicators))
	for i, ind := range c.Structure.Indicators {
		names[i] = models.NormalizeName(ind.Name)
	}

	var issues []models.Issue
	keys, groups := duplicateGroups(names)
	for g, idx := range groups {
		issues = append(issues, models.Issue{
			ID:       issueID("DUP-IND", idx[0]+1),
			Severity: models.IssueBlocker,
			Category: CategoryDuplicates,
			Message: fmt.Sprintf("Duplicate indicator name '%s' found at %d locations: %s",
				keys[g], len(idx), formatIDs("ind", idx)),
			Evidence: models.Evidence{
				Pointer: fmt.Sprintf("/structure/indicators/%d", idx[1]),
				Snippet: fmt.Sprintf("normalized name '%s' appears %d times", keys[g], len(idx)),
			},
			FixHint: "Merge duplicate indicators or rename them to distinguish contexts.",
		})
	}
	return issues
}

func checkDuplicateStageTitles(c *models.CompiledMethodology) []models.Issue {
	titles := make([]string, len(c.Structure.Stages))
	for i, s := range c.Structure.Stages {
		titles[i] = models.NormalizeName(s.Title)
	}

	var issues []models.Issue
	keys, groups := duplicateGroups(titles)
	for g, idx := range groups {
		issues = append(issues, models.Issue{
			ID:       issueID("DUP-STAGE", idx[0]+1),
			Severity: models.IssueMajor,
			Category: CategoryDuplicates,
			Message: fmt.Sprintf("Duplicate stage title '%s' found at %d locations: %s",
				keys[g], len(idx), formatIDs("stage", idx)),
			Evidence: models.Evidence{
				Pointer: fmt.Sprintf("/structure/stages/%d", idx[1]),
				Snippet: fmt.Sprintf("title '%s' appears %d times", keys[g], len(idx)),
			},
			FixHint: "Merge duplicate stages or rename them to distinguish contexts.",
		})
	}
	return issues
}

// checkStageOrder flags numbering that restarts at 1 mid-list and
// duplicate order values.
func checkStageOrder(c *models.CompiledMethodology) []models.Issue {
	var issues []models.Issue
	byOrder := map[int][]int{}
	var orders []int

	for i, s := range c.Structure.Stages {
		if _, ok := byOrder[s.Order]; !ok {
			orders = append(orders, s.Order)
		}
		byOrder[s.Order] = append(byOrder[s.Order], i)

		if s.Order == 1 && i > 0 {
			issues = append(issues, models.Issue{
				ID:       issueID("ORDER-RESET", i+1),
				Severity: models.IssueMajor,
				Category: CategoryStageOrder,
				Message:  fmt.Sprintf("Stage %d has order=1 but is not the first stage", i+1),
				Evidence: models.Evidence{Pointer: fmt.Sprintf("/structure/stages/%d/order", i)},
				FixHint:  "Renumber stages sequentially 1..N.",
			})
		}
	}

	for _, o := range orders {
		idx := byOrder[o]
		if len(idx) < 2 {
			continue
		}
		issues = append(issues, models.Issue{
			ID:       issueID("ORDER-DUP", o),
			Severity: models.IssueBlocker,
			Category: CategoryStageOrder,
			Message:  fmt.Sprintf("Duplicate order=%d found at %d stages: %s", o, len(idx), formatIDs("stage", idx)),
			Evidence: models.Evidence{Pointer: fmt.Sprintf("/structure/stages/%d/order", idx[1])},
			FixHint:  "Give each stage a unique order value.",
		})
	}
	return issues
}

// checkEmptyFormulas applies only to methodology types that are expected
// to carry formulas.
func checkEmptyFormulas(c *models.CompiledMethodology) []models.Issue {
	inds := c.Structure.Indicators
	if len(inds) == 0 {
		return nil
	}
	mt := c.Classification.MethodologyType
	if mt != models.TypeDiagnostic && mt != models.TypeAnalysis {
		return nil
	}

	empty := 0
	for _, ind := range inds {
		if strings.TrimSpace(ind.Formula) == "" {
			empty++
		}
	}
	ratio := float64(empty) / float64(len(inds))
	ev := models.Evidence{
		Pointer: "/structure/indicators/*/formula",
		Snippet: fmt.Sprintf("%d/%d indicators with empty formula", empty, len(inds)),
	}

	switch {
	case empty == len(inds):
		return []models.Issue{{
			ID:       "EMPTY-FORM-001",
			Severity: models.IssueBlocker,
			Category: CategoryCompleteness,
			Message:  fmt.Sprintf("All %d indicators have empty formulas (methodology_type=%s)", len(inds), mt),
			Evidence: ev,
			FixHint:  "Extract formulas from the source or classify the methodology as planning.",
		}}
	case ratio > emptyFormulaLimit:
		return []models.Issue{{
			ID:       "EMPTY-FORM-002",
			Severity: models.IssueMajor,
			Category: CategoryCompleteness,
			Message: fmt.Sprintf("%d/%d (%.0f%%) indicators have empty formulas (threshold=%.0f%%)",
				empty, len(inds), ratio*100, emptyFormulaLimit*100),
			Evidence: ev,
			FixHint: "Extract formulas from the source or keep only indicators with clear definitions.",
		}}
	}
	return nil
}

// checkReadmeCoverage counts stages whose id or title appears in the README.
func checkReadmeCoverage(c *models.CompiledMethodology, docsDir string) []models.Issue {
	stages := c.Structure.Stages
	if len(stages) == 0 {
		return nil
	}
	path := filepath.Join(docsDir, compile.ReadmeFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	readme := strings.ToLower(string(data))

	found := 0
	var missing []string
	for _, s := range stages {
		title := strings.ToLower(strings.TrimSpace(s.Title))
		if (s.ID != "" && strings.Contains(readme, strings.ToLower(s.ID))) ||
			(title != "" && strings.Contains(readme, title)) {
			found++
			continue
		}
		missing = append(missing, s.ID)
	}

	ratio := float64(found) / float64(len(stages))
	switch {
	case ratio < readmeBlockerBelow:
		shown := missing
		suffix := ""
		if len(shown) > 5 {
			shown, suffix = shown[:5], "..."
		}
		return []models.Issue{{
			ID:       "README-COV-001",
			Severity: models.IssueBlocker,
			Category: CategoryDocs,
			Message:  fmt.Sprintf("README.md covers only %d/%d (%.0f%%) stages", found, len(stages), ratio*100),
			Evidence: models.Evidence{Path: path, Snippet: "missing stages: " + strings.Join(shown, ", ") + suffix},
			FixHint:  "Re-run compile to regenerate the README with all stages.",
		}}
	case ratio < readmeMajorBelow:
		return []models.Issue{{
			ID:       "README-COV-002",
			Severity: models.IssueMajor,
			Category: CategoryDocs,
			Message:  fmt.Sprintf("README.md incomplete: %d/%d (%.0f%%) stages documented", found, len(stages), ratio*100),
			Evidence: models.Evidence{Path: path, Snippet: fmt.Sprintf("missing %d stages", len(missing))},
			FixHint:  "Regenerate the README so it lists every stage.",
		}}
	}
	return nil
}
