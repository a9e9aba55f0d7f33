// Package compile turns an extracted outline into the normalized methodology
// record and its Markdown documentation. It is purely mechanical: every value
// it emits comes from an outline field.
package compile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
	"gopkg.in/yaml.v3"
)

// ErrUnknownSeverity is returned when a rule severity has no canonical mapping.
var ErrUnknownSeverity = errors.New("unknown rule severity")

// defaultMethodologyType is used when the outline leaves the classification empty.
const defaultMethodologyType = models.TypeAnalysis

var severityTable = map[string]string{
	"critical": models.SeverityCritical,
	"high":     models.SeverityCritical,
	"blocker":  models.SeverityCritical,
	"error":    models.SeverityCritical,
	"warning":  models.SeverityWarning,
	"medium":   models.SeverityWarning,
	"major":    models.SeverityWarning,
	"":         models.SeverityWarning,
	"info":     models.SeverityInfo,
	"low":      models.SeverityInfo,
	"minor":    models.SeverityInfo,
}

var toolTypeTable = map[string]string{
	"table":       models.ToolTable,
	"spreadsheet": models.ToolTable,
	"matrix":      models.ToolTable,
	"template":    models.ToolTemplate,
	"form":        models.ToolTemplate,
	"checklist":   models.ToolChecklist,
	"check-list":  models.ToolChecklist,
	"check list":  models.ToolChecklist,
	"calculator":  models.ToolCalculator,
	"model":       models.ToolCalculator,
	"document":    models.ToolDocument,
	"report":      models.ToolDocument,
	"chart":       models.ToolChart,
	"graph":       models.ToolChart,
	"diagram":     models.ToolChart,
}

// NormalizeSeverity maps a free-text severity onto the compiled enum.
func NormalizeSeverity(s string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if v, ok := severityTable[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
}

// NormalizeToolType maps a free-text tool type onto the closed set.
func NormalizeToolType(s string) string {
	if v, ok := toolTypeTable[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v
	}
	return models.ToolOther
}

// Compiler normalizes outlines and renders documentation.
type Compiler struct {
	logger *slog.Logger
}

// New creates a Compiler. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{logger: logger}
}

// CompileFile loads an outline from disk and compiles it, recording the
// outline path and hash in the compiled source block.
func (c *Compiler) CompileFile(outlinePath, bookID string) (*models.CompiledMethodology, error) {
	outline, err := parser.LoadOutline(outlinePath)
	if err != nil {
		return nil, err
	}
	hash, err := parser.HashFile(outlinePath)
	if err != nil {
		return nil, err
	}
	compiled, err := c.Compile(outline, bookID)
	if err != nil {
		return nil, err
	}
	compiled.Source.OutlinePath = outlinePath
	compiled.Source.OutlineHash = hash
	return compiled, nil
}

// Compile normalizes an outline. The same outline always yields the same record.
func (c *Compiler) Compile(outline *models.Outline, bookID string) (*models.CompiledMethodology, error) {
	if outline == nil {
		return nil, errors.New("compile: nil outline")
	}
	methodologyID := models.Slugify(bookID)
	if methodologyID == "" {
		return nil, fmt.Errorf("compile: book id %q yields an empty methodology id", bookID)
	}

	stages, stageRefs := normalizeStages(outline.Structure.Stages)
	out := &models.CompiledMethodology{
		MethodologyID: methodologyID,
		Title:         firstNonEmpty(outline.Title, bookID),
		Description:   strings.TrimSpace(outline.Description),
		Tags:          trimAll(outline.Tags),
		Classification: models.Classification{
			MethodologyType: firstNonEmpty(strings.ToLower(strings.TrimSpace(outline.Classification.MethodologyType)), defaultMethodologyType),
			Domain:          strings.TrimSpace(outline.Classification.Domain),
		},
		Structure: models.Structure{Stages: stages},
		Source:    models.CompiledSource{BookID: bookID},
	}

	for i, t := range outline.Structure.Tools {
		out.Structure.Tools = append(out.Structure.Tools, models.Tool{
			ID:          models.FormatID("tool", i+1),
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			Type:        NormalizeToolType(t.Type),
			Stage:       c.resolveStage(stageRefs, t.Stage, "tool", i+1),
			Terms:       normalizeTerms(t.Terms),
		})
	}

	for i, ind := range outline.Structure.Indicators {
		out.Structure.Indicators = append(out.Structure.Indicators, models.Indicator{
			ID:          models.FormatID("ind", i+1),
			Name:        strings.TrimSpace(ind.Name),
			Description: strings.TrimSpace(ind.Description),
			Formula:     strings.TrimSpace(ind.Formula),
			Unit:        strings.TrimSpace(ind.Unit),
			Stage:       c.resolveStage(stageRefs, ind.Stage, "indicator", i+1),
			Terms:       normalizeTerms(ind.Terms),
		})
	}

	for i, r := range outline.Structure.Rules {
		sev, err := NormalizeSeverity(r.Severity)
		if err != nil {
			return nil, fmt.Errorf("compile rule %d: %w", i+1, err)
		}
		out.Structure.Rules = append(out.Structure.Rules, models.Rule{
			ID:          models.FormatID("rule", i+1),
			Title:       strings.TrimSpace(r.Title),
			Description: strings.TrimSpace(r.Description),
			Severity:    sev,
			Stage:       c.resolveStage(stageRefs, r.Stage, "rule", i+1),
			Terms:       normalizeTerms(r.Terms),
		})
	}

	seen := map[string]bool{}
	for _, ft := range outline.GlossaryReferences.FoundTerms {
		id := models.NormalizeTermID(firstNonEmpty(ft.TermID, ft.Name))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out.GlossaryReferences.FoundTerms = append(out.GlossaryReferences.FoundTerms, models.FoundTerm{
			TermID: id,
			Name:   strings.TrimSpace(ft.Name),
		})
	}

	return out, nil
}

// WriteRecord writes the compiled record as YAML.
func (c *Compiler) WriteRecord(path string, compiled *models.CompiledMethodology) error {
	if err := parser.WriteYAML(path, compiled); err != nil {
		return fmt.Errorf("write compiled record: %w", err)
	}
	return nil
}

// LoadRecord reads a compiled record written by WriteRecord.
func LoadRecord(path string) (*models.CompiledMethodology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compiled record: %w", err)
	}
	var compiled models.CompiledMethodology
	if err := yaml.Unmarshal(data, &compiled); err != nil {
		return nil, fmt.Errorf("decode compiled record %s: %w", filepath.Base(path), err)
	}
	return &compiled, nil
}

// normalizeStages sorts stages by (order, position), renumbers them 1..N and
// assigns ids. Stages without a positive order keep their position after the
// ordered ones. The returned map resolves old ids, old order numbers and
// normalized titles to the new ids.
func normalizeStages(in []models.Stage) ([]models.Stage, map[string]string) {
	type indexed struct {
		pos   int
		stage models.Stage
	}
	items := make([]indexed, len(in))
	for i, s := range in {
		items[i] = indexed{pos: i, stage: s}
	}
	sort.SliceStable(items, func(a, b int) bool {
		oa, ob := items[a].stage.Order, items[b].stage.Order
		switch {
		case oa > 0 && ob > 0:
			return oa < ob
		case oa > 0:
			return true
		default:
			return false
		}
	})

	refs := make(map[string]string, len(in)*3)
	out := make([]models.Stage, 0, len(in))
	for i, it := range items {
		id := models.FormatID("stage", i+1)
		old := it.stage
		if old.ID != "" {
			refs[strings.TrimSpace(old.ID)] = id
		}
		if old.Order > 0 {
			if _, taken := refs[strconv.Itoa(old.Order)]; !taken {
				refs[strconv.Itoa(old.Order)] = id
			}
		}
		if t := models.NormalizeName(old.Title); t != "" {
			if _, taken := refs[t]; !taken {
				refs[t] = id
			}
		}
		out = append(out, models.Stage{
			ID:          id,
			Title:       strings.TrimSpace(old.Title),
			Description: strings.TrimSpace(old.Description),
			Order:       i + 1,
		})
	}
	return out, refs
}

func (c *Compiler) resolveStage(refs map[string]string, ref, kind string, n int) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if id, ok := refs[ref]; ok {
		return id
	}
	if id, ok := refs[models.NormalizeName(ref)]; ok {
		return id
	}
	c.logger.Warn("unresolved stage reference", "kind", kind, "position", n, "stage", ref)
	return ""
}

func normalizeTerms(terms []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range terms {
		id := models.NormalizeTermID(t)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
