package models

// Closed set of compiled tool types.
const (
	ToolTable      = "table"
	ToolTemplate   = "template"
	ToolChecklist  = "checklist"
	ToolCalculator = "calculator"
	ToolDocument   = "document"
	ToolChart      = "chart"
	ToolOther      = "other"
)

// CompiledMethodology is the canonical record produced by the compiler.
// It carries no timestamps so identical outlines compile to identical bytes.
type CompiledMethodology struct {
	MethodologyID      string             `yaml:"methodology_id" json:"methodology_id"`
	Title              string             `yaml:"title" json:"title"`
	Description        string             `yaml:"description,omitempty" json:"description,omitempty"`
	Tags               []string           `yaml:"tags,omitempty" json:"tags,omitempty"`
	Classification     Classification     `yaml:"classification" json:"classification"`
	Structure          Structure          `yaml:"structure" json:"structure"`
	GlossaryReferences GlossaryReferences `yaml:"glossary_references,omitempty" json:"glossary_references,omitempty"`
	Source             CompiledSource     `yaml:"source" json:"source"`
}

// CompiledSource ties a compiled record back to the outline it came from.
type CompiledSource struct {
	BookID      string `yaml:"book_id" json:"book_id"`
	OutlinePath string `yaml:"outline_path,omitempty" json:"outline_path,omitempty"`
	OutlineHash string `yaml:"outline_hash,omitempty" json:"outline_hash,omitempty"`
}

// StageTools returns the tools attached to a stage.
func (c *CompiledMethodology) StageTools(stageID string) []Tool {
	var out []Tool
	for _, t := range c.Structure.Tools {
		if t.Stage == stageID {
			out = append(out, t)
		}
	}
	return out
}

// StageIndicators returns the indicators attached to a stage.
func (c *CompiledMethodology) StageIndicators(stageID string) []Indicator {
	var out []Indicator
	for _, ind := range c.Structure.Indicators {
		if ind.Stage == stageID {
			out = append(out, ind)
		}
	}
	return out
}

// StageRules returns the rules attached to a stage.
func (c *CompiledMethodology) StageRules(stageID string) []Rule {
	var out []Rule
	for _, r := range c.Structure.Rules {
		if r.Stage == stageID {
			out = append(out, r)
		}
	}
	return out
}
