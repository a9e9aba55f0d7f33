package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/parser"
)

// Files inside a run directory.
const (
	ManifestFile   = "manifest.json"
	FinalFile      = "final.json"
	GateReportFile = "b_quality_gate.json"
	ReleaseDir     = "release"
	SummaryFile    = "summary.md"
)

// Final is the terminal marker of a run.
type Final struct {
	Status models.Outcome `json:"status"`
	Reason string         `json:"reason"`
}

// WriteManifest writes manifest.json into runDir.
func WriteManifest(runDir string, m *models.RunManifest) error {
	if err := parser.WriteJSON(filepath.Join(runDir, ManifestFile), m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads manifest.json from runDir.
func LoadManifest(runDir string) (*models.RunManifest, error) {
	var m models.RunManifest
	if err := parser.ReadJSON(filepath.Join(runDir, ManifestFile), &m); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return &m, nil
}

// WriteFinal writes final.json into runDir.
func WriteFinal(runDir string, f Final) error {
	if err := parser.WriteJSON(filepath.Join(runDir, FinalFile), f); err != nil {
		return fmt.Errorf("write final: %w", err)
	}
	return nil
}

// LoadFinal reads final.json from runDir.
func LoadFinal(runDir string) (*Final, error) {
	var f Final
	if err := parser.ReadJSON(filepath.Join(runDir, FinalFile), &f); err != nil {
		return nil, fmt.Errorf("load final: %w", err)
	}
	return &f, nil
}

// FailedStep returns the first failed step, or nil.
func FailedStep(m *models.RunManifest) *models.StepResult {
	for i := range m.Steps {
		if m.Steps[i].Status == models.StepFail {
			return &m.Steps[i]
		}
	}
	return nil
}
