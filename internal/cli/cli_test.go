package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressModelTracksSteps(t *testing.T) {
	cancelled := false
	m := newProgressModel("kb_1", []string{"compile", "gate", "publish"}, func() { cancelled = true })

	next, _ := m.Update(stepStartMsg{name: "compile", index: 0, total: 3})
	m = next.(progressModel)
	assert.Equal(t, "running", m.steps[0].status)

	next, _ = m.Update(stepEndMsg{result: models.StepResult{Name: "compile", Status: models.StepOK, DurationSec: 0.5}})
	m = next.(progressModel)
	next, _ = m.Update(stepEndMsg{result: models.StepResult{Name: "gate", Status: models.StepFail}})
	m = next.(progressModel)
	next, _ = m.Update(stepEndMsg{result: models.StepResult{Name: "publish", Status: models.StepSkipped}})
	m = next.(progressModel)

	assert.Equal(t, 3, m.finished())
	assert.Equal(t, []string{models.StepOK, models.StepFail, models.StepSkipped},
		[]string{m.steps[0].status, m.steps[1].status, m.steps[2].status})
	assert.Contains(t, m.renderContent(), "3/3 steps")

	next, cmd := m.Update(runDoneMsg{outcome: models.OutcomeExecutionError})
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.renderContent(), "execution_error (exit 1)")
	assert.False(t, cancelled)
}

func TestTextObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := &textObserver{w: &buf, theme: defaultTheme}

	obs.OnStepStart("gate", 0, 2)
	obs.OnStepEnd(models.StepResult{Name: "gate", Status: models.StepFail, Error: "no outline found"})
	obs.OnStepEnd(models.StepResult{Name: "publish", Status: models.StepSkipped, Error: orchestrator.ReasonPriorFailure})

	out := buf.String()
	assert.Contains(t, out, "[1/2] gate ...")
	assert.Contains(t, out, "no outline found")
	assert.Contains(t, out, orchestrator.ReasonPriorFailure)
}

func TestRenderManifest(t *testing.T) {
	gateStatus := models.GateFail
	m := &models.RunManifest{
		RunID:     "kb_1",
		BookID:    "fin-analysis",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Steps: []models.StepResult{
			{Name: "gate", Status: models.StepOK, DurationSec: 0.25, Artifacts: []string{"b_quality_gate.json"}},
			{Name: "publish", Status: models.StepSkipped, Error: orchestrator.ReasonGateFailure},
		},
		QA:      models.QARecord{GateStatus: &gateStatus},
		Policy:  models.Policy{RequireGatePass: true},
		Outcome: models.OutcomeGateFailure,
	}

	out := renderManifest(m, &orchestrator.Final{Status: m.Outcome, Reason: "Gate FAIL"})
	assert.Contains(t, out, "Run kb_1")
	assert.Contains(t, out, "fin-analysis")
	assert.Contains(t, out, "gate_failure (exit 2)")
	assert.Contains(t, out, "Reason:   Gate FAIL")
	assert.Contains(t, out, "Gate:     FAIL")
	assert.Contains(t, out, orchestrator.ReasonGateFailure)
	assert.Contains(t, out, "0.25s")
}

func TestExitError(t *testing.T) {
	inner := errors.New("quality gate failed")
	err := withCode(ExitGateFail, inner)

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitGateFail, ee.code)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "exit code 2", withCode(ExitGateFail, nil).Error())
}

func TestRelToRoot(t *testing.T) {
	cfg.Root = "/srv/kb"
	t.Cleanup(func() { cfg.Root = "" })

	assert.Equal(t, "data/glossary", relToRoot("/srv/kb/data/glossary"))
}

func TestRunDepsConnectOnlyWhenAStepStarts(t *testing.T) {
	cfg = config.Config{
		Root:         t.TempDir(),
		SurrealDBURL: "ws://127.0.0.1:1/rpc",
		DBTimeout:    time.Second,
	}
	t.Cleanup(func() { cfg = config.Config{} })

	layout := cfg.Layout()
	outline := layout.OutlinePath("book")
	require.NoError(t, os.MkdirAll(filepath.Dir(outline), 0o755))
	require.NoError(t, os.WriteFile(outline, []byte(`
structure:
  stages:
    - {title: Collect, description: Gather, order: 1}
    - {title: Compute, description: "", order: 1}
`), 0o644))

	runner := orchestrator.NewRunner(layout, orchestrator.NewDefaultRegistry(stepDeps()), orchestrator.Options{
		BookID: "book",
		RunID:  "kb_test",
		Steps:  []string{orchestrator.StepGate, orchestrator.StepPublish},
		Policy: models.Policy{RequireGatePass: true},
	}, nil, nil)

	outcome, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeGateFailure, outcome)
	assert.Nil(t, dbClient, "a skipped publish step must not dial the store")

	m, err := orchestrator.LoadManifest(layout.RunDir("kb_test"))
	require.NoError(t, err)
	require.Len(t, m.Steps, 2)
	assert.Equal(t, models.StepOK, m.Steps[0].Status)
	assert.Equal(t, models.StepSkipped, m.Steps[1].Status)
}
