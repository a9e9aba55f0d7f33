// Package parser reads the pipeline's on-disk inputs: outlines, block streams,
// glossary sources and rendered Markdown documents.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from frontmatter or the first h1
	Title string

	// Main content (after frontmatter)
	Content string

	// Structured content by heading
	Sections []Section
}

// Section represents a heading and its content.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // The heading text
	Path    string // Full path like "## Stages > ### Liquidity"
	Content string // Content under this heading
	Start   int    // Line number where section starts
	End     int    // Line number where section ends
}

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// ParseMarkdown parses a Markdown document into structured form.
// Invalid frontmatter is ignored rather than treated as an error.
func ParseMarkdown(content string) *MarkdownDoc {
	doc := &MarkdownDoc{Frontmatter: make(map[string]any)}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)
	return doc
}

// extractTitle gets title from frontmatter or first h1.
func extractTitle(fm map[string]any, content string) string {
	for _, key := range []string{"title", "name", "term"} {
		if v, ok := fm[key].(string); ok && v != "" {
			return v
		}
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// parseSections extracts sections from Markdown content.
func parseSections(content string) []Section {
	var sections []Section

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	var currentPath []string
	var currentLevels []int

	var currentSection *Section
	var contentBuilder strings.Builder

	flushSection := func(endLine int) {
		if currentSection != nil {
			currentSection.Content = strings.TrimSpace(contentBuilder.String())
			currentSection.End = endLine
			sections = append(sections, *currentSection)
			contentBuilder.Reset()
		}
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			if currentSection != nil {
				contentBuilder.WriteString(line)
				contentBuilder.WriteString("\n")
			}
			continue
		}

		flushSection(lineNum - 1)

		level := len(match[1])
		heading := strings.TrimSpace(match[2])
		for len(currentLevels) > 0 && currentLevels[len(currentLevels)-1] >= level {
			currentPath = currentPath[:len(currentPath)-1]
			currentLevels = currentLevels[:len(currentLevels)-1]
		}
		currentPath = append(currentPath, match[1]+" "+heading)
		currentLevels = append(currentLevels, level)

		currentSection = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(currentPath, " > "),
			Start:   lineNum,
		}
	}

	flushSection(lineNum)
	return sections
}

func stringSlice(v any) []string {
	switch v := v.(type) {
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				result = append(result, strings.TrimSpace(s))
			}
		}
		return result
	case []string:
		return v
	case string:
		if strings.TrimSpace(v) != "" {
			return []string{strings.TrimSpace(v)}
		}
	}
	return nil
}
