package glossary

import (
	"fmt"

	"github.com/raphaelgruber/methodkb/internal/parser"
)

// WriteReport writes the sync report as JSON to path.
func WriteReport(path string, report *Report) error {
	if err := parser.WriteJSON(path, report); err != nil {
		return fmt.Errorf("write glossary report: %w", err)
	}
	return nil
}
