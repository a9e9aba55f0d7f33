// Package gate implements the deterministic structural quality gate that
// runs on an outline before anything is published.
package gate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

// ErrNoInputFound is returned when the outline has no structure.stages at all.
// It is an input error, not a FAIL verdict.
var ErrNoInputFound = errors.New("no input found: outline has no structure.stages")

// Issue codes.
const (
	CodeStageCount      = "BQG_STAGE_COUNT"
	CodeStageDescEmpty  = "BQG_STAGE_DESC_EMPTY"
	CodeStageOrderRange = "BQG_STAGE_ORDER_RANGE"
	CodeIndicatorDupes  = "BQG_IND_DUPES"
	CodeFormulaAllEmpty = "BQG_FORMULA_ALL_EMPTY"
	CodeFormulaSparse   = "BQG_FORMULA_SPARSE"
	CodeIndDescCoverage = "BQG_IND_DESC_COVERAGE"
	CodeSeverityEnum    = "BQG_SEVERITY_ENUM"
)

const (
	sparseFormulaLimit = 0.70
	indDescEmptyLimit  = 0.10
)

// Issue is one coded gate finding.
type Issue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Metrics are the counts and ratios computed by the gate. Pointer fields are
// null when the check did not apply.
type Metrics struct {
	NStages                 int      `json:"n_stages"`
	EmptyStageDescRatio     *float64 `json:"empty_stage_desc_ratio"`
	OrderOK                 *bool    `json:"order_ok"`
	NIndicators             int      `json:"n_indicators"`
	EmptyIndicatorDescRatio *float64 `json:"empty_indicator_desc_ratio"`
	FormulaNonEmptyRatio    *float64 `json:"formula_non_empty_ratio"`
	NRules                  int      `json:"n_rules"`
	SeverityOK              *bool    `json:"severity_ok"`
	DuplicateIndicators     *int     `json:"duplicate_indicators"`
}

// Result is the gate verdict.
type Result struct {
	Status  string  `json:"status"`
	Metrics Metrics `json:"metrics"`
	Issues  []Issue `json:"issues"`
}

// Passed reports whether the gate status is PASS.
func (r Result) Passed() bool {
	return r.Status == models.GatePass
}

// Blockers returns the number of BLOCKER issues.
func (r Result) Blockers() int {
	return r.count(models.IssueBlocker)
}

// Majors returns the number of MAJOR issues.
func (r Result) Majors() int {
	return r.count(models.IssueMajor)
}

func (r Result) count(sev string) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// Run evaluates an outline. It performs no I/O and is deterministic.
func Run(outline *models.Outline) (Result, error) {
	if outline == nil || !outline.HasStages() {
		return Result{}, ErrNoInputFound
	}

	res := Result{Issues: []Issue{}}
	add := func(code, sev, msg string) {
		res.Issues = append(res.Issues, Issue{Code: code, Severity: sev, Message: msg})
	}

	s := outline.Structure
	stages := s.Stages
	res.Metrics.NStages = len(stages)

	if len(stages) == 0 {
		add(CodeStageCount, models.IssueBlocker, "stages must contain at least 1 item")
	} else {
		empty := 0
		for _, st := range stages {
			if isBlank(st.Description) {
				empty++
			}
		}
		res.Metrics.EmptyStageDescRatio = ratio(empty, len(stages))
		if empty > 0 {
			add(CodeStageDescEmpty, models.IssueBlocker, fmt.Sprintf("%d stage descriptions are empty", empty))
		}

		ok := orderIsPermutation(stages)
		res.Metrics.OrderOK = &ok
		if !ok {
			add(CodeStageOrderRange, models.IssueBlocker, "stage.order must be unique and cover 1..N without gaps")
		}
	}

	indicators := s.Indicators
	res.Metrics.NIndicators = len(indicators)
	if len(indicators) > 0 {
		emptyDesc, emptyFormula := 0, 0
		for _, ind := range indicators {
			if isBlank(ind.Description) {
				emptyDesc++
			}
			if isBlank(ind.Formula) {
				emptyFormula++
			}
		}

		res.Metrics.EmptyIndicatorDescRatio = ratio(emptyDesc, len(indicators))
		if *res.Metrics.EmptyIndicatorDescRatio > indDescEmptyLimit {
			add(CodeIndDescCoverage, models.IssueMajor, "indicator description coverage below 90%")
		}

		res.Metrics.FormulaNonEmptyRatio = ratio(len(indicators)-emptyFormula, len(indicators))
		emptyRatio := float64(emptyFormula) / float64(len(indicators))
		switch {
		case emptyFormula == len(indicators):
			add(CodeFormulaAllEmpty, models.IssueBlocker, fmt.Sprintf("all %d indicator formulas are empty", emptyFormula))
		case emptyRatio > sparseFormulaLimit:
			add(CodeFormulaSparse, models.IssueMajor, fmt.Sprintf("%.0f%% of indicator formulas are empty", emptyRatio*100))
		}

		dupes := duplicateNames(indicators)
		res.Metrics.DuplicateIndicators = &dupes
		if dupes > 0 {
			add(CodeIndicatorDupes, models.IssueBlocker, fmt.Sprintf("duplicate indicators by normalized name: %d", dupes))
		}
	}

	res.Metrics.NRules = len(s.Rules)
	if len(s.Rules) > 0 {
		bad := invalidSeverities(s.Rules)
		sevOK := len(bad) == 0
		res.Metrics.SeverityOK = &sevOK
		if !sevOK {
			add(CodeSeverityEnum, models.IssueBlocker, fmt.Sprintf("invalid severity values: [%s]", strings.Join(bad, ", ")))
		}
	}

	res.Status = models.GatePass
	if res.Blockers() > 0 {
		res.Status = models.GateFail
	}
	return res, nil
}

// WriteReport writes the result as indented JSON.
func WriteReport(path string, res Result) error {
	if err := parser.WriteJSON(path, res); err != nil {
		return fmt.Errorf("write gate report: %w", err)
	}
	return nil
}

func orderIsPermutation(stages []models.Stage) bool {
	n := len(stages)
	seen := make(map[int]bool, n)
	for _, st := range stages {
		if st.Order < 1 || st.Order > n || seen[st.Order] {
			return false
		}
		seen[st.Order] = true
	}
	return true
}

func duplicateNames(indicators []models.Indicator) int {
	seen := make(map[string]bool, len(indicators))
	dupes := 0
	for _, ind := range indicators {
		key := models.NormalizeName(ind.Name)
		if seen[key] {
			dupes++
			continue
		}
		seen[key] = true
	}
	return dupes
}

// invalidSeverities returns the sorted, distinct severity values outside the allowed enum.
func invalidSeverities(rules []models.Rule) []string {
	set := map[string]bool{}
	for _, r := range rules {
		if !models.AllowedSeverities[r.Severity] {
			set[fmt.Sprintf("%q", r.Severity)] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func ratio(part, total int) *float64 {
	r := float64(part) / float64(total)
	return &r
}
