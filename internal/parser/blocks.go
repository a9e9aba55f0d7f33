package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
)

var knownBlockTypes = map[string]bool{
	models.BlockParagraph: true,
	models.BlockHeading:   true,
	models.BlockTable:     true,
	models.BlockList:      true,
	models.BlockFormula:   true,
	models.BlockPageBreak: true,
}

// ReadBlocksFile reads a blocks.jsonl file.
func ReadBlocksFile(path string) ([]models.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blocks: %w", err)
	}
	defer f.Close()
	return ReadBlocks(f)
}

// ReadBlocks decodes one JSON block per line. Blank lines are skipped;
// an unknown block type or malformed line is an input error.
func ReadBlocks(r io.Reader) ([]models.Block, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var blocks []models.Block
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var b models.Block
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("blocks line %d: %w", line, err)
		}
		if !knownBlockTypes[b.Type] {
			return nil, fmt.Errorf("blocks line %d: unknown block type %q", line, b.Type)
		}
		blocks = append(blocks, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan blocks: %w", err)
	}
	return blocks, nil
}
