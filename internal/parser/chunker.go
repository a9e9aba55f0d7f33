package parser

import (
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
)

// BlockChunk is a run of consecutive blocks sent to the extractor together.
type BlockChunk struct {
	Position    int
	HeadingPath string
	FirstPage   int
	LastPage    int
	Text        string
}

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// TargetSize: preferred chunk size in characters; a heading past this size starts a new chunk
	TargetSize int
	// MaxSize: hard limit; a block that would exceed it starts a new chunk
	MaxSize int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetSize: 6000,
		MaxSize:    12000,
	}
}

// ChunkBlocks groups blocks into chunks, preferring to break before headings.
// Page breaks never carry text and are dropped. A single block larger than
// MaxSize becomes its own chunk rather than being split mid-text.
func ChunkBlocks(blocks []models.Block, config ChunkConfig) []BlockChunk {
	var chunks []BlockChunk
	var b strings.Builder
	var current *BlockChunk
	var headingPath []string

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(b.String())
		if current.Text != "" {
			current.Position = len(chunks)
			chunks = append(chunks, *current)
		}
		current = nil
		b.Reset()
	}

	for _, blk := range blocks {
		if blk.Type == models.BlockPageBreak {
			continue
		}
		text := strings.TrimSpace(blk.Text)
		if text == "" {
			continue
		}

		if blk.Type == models.BlockHeading {
			if current != nil && b.Len() >= config.TargetSize {
				flush()
			}
			headingPath = updateHeadingPath(headingPath, headingLevel(blk), text)
		}
		if current != nil && b.Len()+len(text) > config.MaxSize {
			flush()
		}
		if current == nil {
			current = &BlockChunk{
				HeadingPath: strings.Join(headingPath, " > "),
				FirstPage:   blk.Source.Page,
			}
		}

		current.LastPage = blk.Source.Page
		b.WriteString(renderBlock(blk.Type, text))
		b.WriteString("\n\n")
	}
	flush()

	return chunks
}

func headingLevel(blk models.Block) int {
	switch v := blk.Meta["level"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 1
}

func updateHeadingPath(path []string, level int, heading string) []string {
	if level < 1 {
		level = 1
	}
	if len(path) >= level {
		path = path[:level-1]
	}
	return append(path, heading)
}

func renderBlock(blockType, text string) string {
	switch blockType {
	case models.BlockHeading:
		return "## " + text
	case models.BlockFormula:
		return "FORMULA: " + text
	case models.BlockTable:
		return "TABLE:\n" + text
	default:
		return text
	}
}
