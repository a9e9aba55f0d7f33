package compile

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

//go:embed templates/*.md.tmpl
var templateFiles embed.FS

var templates = template.Must(
	template.New("docs").
		Option("missingkey=error").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFiles, "templates/*.md.tmpl"),
)

// Document subdirectories, one per entity kind.
const (
	StagesDir     = "stages"
	ToolsDir      = "tools"
	IndicatorsDir = "indicators"
	RulesDir      = "rules"
	ReadmeFile    = "README.md"
)

type stageView struct {
	Stage      models.Stage
	Tools      []models.Tool
	Indicators []models.Indicator
	Rules      []models.Rule
}

// MethodologyDir returns the docs directory of a compiled methodology.
func MethodologyDir(docsDir, methodologyID string) string {
	return filepath.Join(docsDir, methodologyID)
}

// Render writes the README and one document per entity under
// docsDir/<methodology_id>. Any previous output for the methodology is
// removed first so the file set always matches the record.
func (c *Compiler) Render(compiled *models.CompiledMethodology, docsDir string) ([]string, error) {
	base := MethodologyDir(docsDir, compiled.MethodologyID)
	if err := os.RemoveAll(base); err != nil {
		return nil, fmt.Errorf("clear docs dir: %w", err)
	}

	var written []string
	write := func(rel, tmpl string, data any) error {
		var buf bytes.Buffer
		if err := templates.ExecuteTemplate(&buf, tmpl, data); err != nil {
			return fmt.Errorf("render %s: %w", rel, err)
		}
		path := filepath.Join(base, rel)
		if err := parser.WriteFile(path, buf.Bytes()); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := write(ReadmeFile, "README.md.tmpl", compiled); err != nil {
		return nil, err
	}
	for _, s := range compiled.Structure.Stages {
		view := stageView{
			Stage:      s,
			Tools:      compiled.StageTools(s.ID),
			Indicators: compiled.StageIndicators(s.ID),
			Rules:      compiled.StageRules(s.ID),
		}
		if err := write(filepath.Join(StagesDir, docName(s.ID, s.Title)), "stage.md.tmpl", view); err != nil {
			return nil, err
		}
	}
	for _, t := range compiled.Structure.Tools {
		if err := write(filepath.Join(ToolsDir, docName(t.ID, t.Title)), "tool.md.tmpl", t); err != nil {
			return nil, err
		}
	}
	for _, ind := range compiled.Structure.Indicators {
		if err := write(filepath.Join(IndicatorsDir, docName(ind.ID, ind.Name)), "indicator.md.tmpl", ind); err != nil {
			return nil, err
		}
	}
	for _, r := range compiled.Structure.Rules {
		if err := write(filepath.Join(RulesDir, docName(r.ID, firstNonEmpty(r.Title, r.Description))), "rule.md.tmpl", r); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("rendered methodology docs", "methodology_id", compiled.MethodologyID, "files", len(written))
	return written, nil
}

func docName(id, title string) string {
	slug := models.Slugify(title)
	if slug == "" {
		slug = "item"
	}
	return id + "_" + slug + ".md"
}
