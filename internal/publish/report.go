package publish

import (
	"fmt"
	"path/filepath"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

// ReportFile is the publish report name inside the publish directory.
const ReportFile = "publish_report.json"

// WriteReport writes the report as JSON into dir and returns its path.
func WriteReport(dir string, report *models.PublishReport) (string, error) {
	path := filepath.Join(dir, ReportFile)
	if err := parser.WriteJSON(path, report); err != nil {
		return "", fmt.Errorf("write publish report: %w", err)
	}
	return path, nil
}
