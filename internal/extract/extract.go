// Package extract turns a document's typed block stream into a methodology
// outline by asking an LLM for one outline fragment per chunk and merging
// the fragments.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

// AgentName is recorded in outline metadata.
const AgentName = "extractor"

// Version is recorded in outline metadata.
const Version = "1.0"

// ErrNoContent is returned when the block stream has no text to extract from.
var ErrNoContent = errors.New("no extractable content")

// Extractor produces an outline from blocks.
type Extractor interface {
	Extract(ctx context.Context, bookID string, blocks []models.Block) (*models.Outline, error)
}

// Generator is the LLM surface the extractor needs.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// LLMExtractor implements Extractor with a chat model.
type LLMExtractor struct {
	llm    Generator
	chunks parser.ChunkConfig
	logger *slog.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

// New creates an LLMExtractor with default chunking.
func New(gen Generator, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{llm: gen, chunks: parser.DefaultChunkConfig(), logger: logger}
}

// WithChunkConfig returns the extractor with different chunk sizes.
func (e *LLMExtractor) WithChunkConfig(cfg parser.ChunkConfig) *LLMExtractor {
	e.chunks = cfg
	return e
}

// Extract chunks the blocks, extracts a fragment per chunk and merges them.
// A chunk whose answer cannot be parsed is skipped with a warning; an LLM
// call failure aborts the extraction.
func (e *LLMExtractor) Extract(ctx context.Context, bookID string, blocks []models.Block) (*models.Outline, error) {
	chunks := parser.ChunkBlocks(blocks, e.chunks)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("extract %s: %w", bookID, ErrNoContent)
	}

	start := time.Now()
	frags := make([]*fragment, 0, len(chunks))
	for _, ch := range chunks {
		raw, err := e.llm.GenerateWithSystem(ctx, systemPrompt, userPrompt(ch.HeadingPath, ch.FirstPage, ch.LastPage, ch.Text))
		if err != nil {
			return nil, fmt.Errorf("extract chunk %d: %w", ch.Position, err)
		}
		f, err := parseFragment(raw)
		if err != nil {
			e.logger.Warn("skipping unparseable chunk", "book_id", bookID, "chunk", ch.Position, "error", err)
			frags = append(frags, nil)
			continue
		}
		frags = append(frags, f)
	}

	outline := mergeFragments(bookID, frags)
	outline.Metadata = models.OutlineMetadata{
		Agent:   AgentName,
		Version: Version,
		Model:   e.llm.Model(),
		Chunks:  len(chunks),
	}
	if src := blocks[0].Source.File; src != "" {
		outline.Metadata.SourceFile = src
	}

	e.logger.Info("outline extracted",
		"book_id", bookID,
		"chunks", len(chunks),
		"stages", len(outline.Structure.Stages),
		"indicators", len(outline.Structure.Indicators),
		"duration_ms", time.Since(start).Milliseconds())
	return outline, nil
}

// ExtractFile reads blocks.jsonl, extracts an outline and writes it as YAML
// to outPath.
func ExtractFile(ctx context.Context, x Extractor, bookID, blocksPath, outPath string) (*models.Outline, error) {
	blocks, err := parser.ReadBlocksFile(blocksPath)
	if err != nil {
		return nil, err
	}
	outline, err := x.Extract(ctx, bookID, blocks)
	if err != nil {
		return nil, err
	}
	if err := parser.WriteYAML(outPath, outline); err != nil {
		return nil, fmt.Errorf("write outline: %w", err)
	}
	return outline, nil
}
