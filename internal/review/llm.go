package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/llm"
	"github.com/raphaelgruber/methodkb/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	maxRecordExcerpt = 12000
	maxReadmeExcerpt = 2000
)

const systemPrompt = `You are a QA reviewer for financial methodology records. You only assess quality.

Rules:
- Do not add stages, tools, indicators or rules.
- Do not rewrite methodology content.
- Do not use outside knowledge; judge only the artifacts provided.
- Ground every finding in evidence: file path, JSON pointer and a quote of at most 25 words.

Assess:
1) Logical coherence: contradictions, duplication, broken flow across stages.
2) Glossary usage: terms used inconsistently or missing from the glossary.
3) Formula sanity: semantic or structural errors in indicator formulas.
4) Completeness: whether the methodology is actionable.

Severity:
- BLOCKER: must be fixed before publishing
- MAJOR: reduces usability or correctness
- MINOR: formatting or clarity

Return only a JSON object:
{"issues": [{"severity": "BLOCKER|MAJOR|MINOR", "category": "string", "message": "string",
  "evidence": {"path": "string", "pointer": "string", "snippet": "string"}, "fix_hint": "string"}],
 "strengths": ["string"]}`

// LLMOutcome is the result of parsing a reviewer model response.
// It is either ParsedIssues or ParseFailure.
type LLMOutcome interface {
	llmOutcome()
}

// ParsedIssues holds the findings of a well-formed response.
type ParsedIssues struct {
	Issues    []models.Issue
	Strengths []string
}

// ParseFailure keeps the raw response that could not be parsed.
type ParseFailure struct {
	Raw string
	Err error
}

func (ParsedIssues) llmOutcome() {}
func (ParseFailure) llmOutcome() {}

type llmIssue struct {
	Severity string          `json:"severity"`
	Category string          `json:"category"`
	Message  string          `json:"message"`
	Evidence models.Evidence `json:"evidence"`
	FixHint  string          `json:"fix_hint"`
}

type llmResponse struct {
	Issues    []llmIssue `json:"issues"`
	Strengths []string   `json:"strengths"`
}

var errNoJSONObject = errors.New("no JSON object in response")

// ParseLLMResponse unwraps and decodes a reviewer model response.
// Issues are numbered LLM-001.. in response order; unknown severities
// become MINOR and a missing category becomes "reasoning".
func ParseLLMResponse(raw string) LLMOutcome {
	obj := llm.ExtractJSON(raw)
	if obj == "" {
		return ParseFailure{Raw: raw, Err: errNoJSONObject}
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return ParseFailure{Raw: raw, Err: fmt.Errorf("decode response: %w", err)}
	}

	out := ParsedIssues{Issues: make([]models.Issue, 0, len(resp.Issues))}
	for i, it := range resp.Issues {
		severity := strings.ToUpper(strings.TrimSpace(it.Severity))
		switch severity {
		case models.IssueBlocker, models.IssueMajor, models.IssueMinor:
		default:
			severity = models.IssueMinor
		}
		category := strings.TrimSpace(it.Category)
		if category == "" {
			category = CategoryReasoning
		}
		out.Issues = append(out.Issues, models.Issue{
			ID:       issueID("LLM", i+1),
			Severity: severity,
			Category: category,
			Message:  it.Message,
			Evidence: it.Evidence,
			FixHint:  it.FixHint,
		})
	}
	for _, s := range resp.Strengths {
		if s = strings.TrimSpace(s); s != "" {
			out.Strengths = append(out.Strengths, s)
		}
	}
	return out
}

// buildUserPrompt assembles the artifacts the model reviews.
func buildUserPrompt(c *models.CompiledMethodology, readme string, deterministic []models.Issue) (string, error) {
	record, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal compiled record: %w", err)
	}

	var b strings.Builder
	b.WriteString("Artifacts for QA review.\n\n")
	fmt.Fprintf(&b, "## Compiled record (%s)\n\n", c.MethodologyID)
	fmt.Fprintf(&b, "- methodology_type: %s\n", c.Classification.MethodologyType)
	fmt.Fprintf(&b, "- stages: %d, tools: %d, indicators: %d, rules: %d\n\n",
		len(c.Structure.Stages), len(c.Structure.Tools), len(c.Structure.Indicators), len(c.Structure.Rules))
	b.WriteString("```yaml\n")
	b.WriteString(truncate(string(record), maxRecordExcerpt))
	b.WriteString("\n```\n\n")

	b.WriteString("## README.md\n\n```markdown\n")
	b.WriteString(truncate(readme, maxReadmeExcerpt))
	b.WriteString("\n```\n\n")

	b.WriteString("## Findings already reported by deterministic checks\n\n")
	if len(deterministic) == 0 {
		b.WriteString("none\n")
	}
	for _, it := range deterministic {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", it.Severity, it.ID, it.Message)
	}
	b.WriteString("\nDo not repeat these findings. Return only the JSON object.\n")
	return b.String(), nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "\n..."
}
