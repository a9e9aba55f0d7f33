package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/raphaelgruber/methodkb/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrNoOutlineFound indicates that none of the expected outline paths exist.
var ErrNoOutlineFound = errors.New("no outline found")

// FindOutline locates the outline for a book inside its work directory.
// It prefers outline_<book>.yaml, then outline.yaml, then the first
// outline*.yaml in lexical order.
func FindOutline(workDir, bookID string) (string, error) {
	preferred := filepath.Join(workDir, "outline_"+bookID+".yaml")
	if fileExists(preferred) {
		return preferred, nil
	}
	legacy := filepath.Join(workDir, "outline.yaml")
	if fileExists(legacy) {
		return legacy, nil
	}
	candidates, _ := filepath.Glob(filepath.Join(workDir, "outline*.yaml"))
	sort.Strings(candidates)
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return "", fmt.Errorf("%w for book %s in %s", ErrNoOutlineFound, bookID, workDir)
}

// LoadOutline reads and decodes an outline YAML (or JSON) file.
func LoadOutline(path string) (*models.Outline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read outline: %w", err)
	}
	return DecodeOutline(data)
}

// DecodeOutline decodes outline bytes. YAML is a superset of JSON so both work.
func DecodeOutline(data []byte) (*models.Outline, error) {
	var outline models.Outline
	if err := yaml.Unmarshal(data, &outline); err != nil {
		return nil, fmt.Errorf("decode outline: %w", err)
	}
	return &outline, nil
}
