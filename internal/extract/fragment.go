package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/llm"
)

// fragment is what the model returns for one chunk.
type fragment struct {
	MethodologyType string `json:"methodology_type"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Stages          []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Order       int    `json:"order"`
	} `json:"stages"`
	Tools []struct {
		Title       string   `json:"title"`
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Stage       string   `json:"stage"`
		Terms       []string `json:"terms"`
	} `json:"tools"`
	Indicators []struct {
		Name        string   `json:"name"`
		Formula     string   `json:"formula"`
		Description string   `json:"description"`
		Unit        string   `json:"unit"`
		Stage       string   `json:"stage"`
		Terms       []string `json:"terms"`
	} `json:"indicators"`
	Rules []struct {
		Title       string   `json:"title"`
		Condition   string   `json:"condition"`
		Action      string   `json:"action"`
		Description string   `json:"description"`
		Severity    string   `json:"severity"`
		Stage       string   `json:"stage"`
		Terms       []string `json:"terms"`
	} `json:"rules"`
	Terms []string `json:"terms"`
}

func parseFragment(raw string) (*fragment, error) {
	var f fragment
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &f); err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return &f, nil
}

const systemPrompt = `You are a methodologist specialized in financial analysis and accounting.
Read the text and extract the elements of the methodology it describes.
Respond with a single JSON object and nothing else.`

const userPromptTemplate = `Extract from the chapter below:

1. stages: steps to perform, [{"title", "description", "order"}]
2. tools: tables, templates, checklists, [{"title", "type", "description", "stage"}]
3. indicators: metrics and formulas, [{"name", "formula", "description", "unit", "stage"}]
4. rules: conditions and actions, [{"condition", "action", "severity": "high|medium|low", "stage"}]
5. methodology_type: diagnostic | planning | analysis | standard
6. terms: financial terms the chapter relies on, ["name", ...]

"stage" refers to a stage title from the same answer. Leave a field empty
rather than inventing content.

Answer as JSON:
{"methodology_type": "...", "title": "...", "stages": [], "tools": [], "indicators": [], "rules": [], "terms": []}

Section: %s
Pages: %d-%d

Text:
%s`

func userPrompt(heading string, firstPage, lastPage int, text string) string {
	if strings.TrimSpace(heading) == "" {
		heading = "(untitled)"
	}
	return fmt.Sprintf(userPromptTemplate, heading, firstPage, lastPage, text)
}
