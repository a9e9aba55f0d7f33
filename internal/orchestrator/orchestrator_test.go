package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/methodkb/internal/compile"
	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/glossary"
	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/raphaelgruber/methodkb/internal/publish"
	"github.com/raphaelgruber/methodkb/internal/review"
	"github.com/raphaelgruber/methodkb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingOutline = `
title: Liquidity Review
description: Assess short-term solvency
classification:
  methodology_type: diagnostic
structure:
  stages:
    - title: Collect statements
      description: Gather balance sheets
      order: 1
    - title: Compute ratios
      description: Liquidity ratios
      order: 2
  indicators:
    - name: Current ratio
      description: Short-term liquidity
      formula: CR = CA / CL
      stage: Compute ratios
  rules:
    - description: Current ratio below one
      severity: critical
`

const failingOutline = `
structure:
  stages:
    - title: Collect
      description: Gather
      order: 1
    - title: Compute
      description: ""
      order: 1
    - title: Conclude
      description: Summarize
      order: 2
`

func writeOutline(t *testing.T, layout config.Layout, bookID, content string) {
	t.Helper()
	path := layout.OutlinePath(bookID)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRunner(t *testing.T, reg *Registry, opts Options) (*Runner, config.Layout) {
	t.Helper()
	layout := config.Layout{Root: t.TempDir()}
	if opts.BookID == "" {
		opts.BookID = "book"
	}
	if opts.RunID == "" {
		opts.RunID = "run_test"
	}
	return NewRunner(layout, reg, opts, metrics.NewCollector(), nil), layout
}

// recordingStep registers a step that records its invocation.
func recordingStep(reg *Registry, name string, calls *[]string, err error) {
	reg.Register(name, func(_ context.Context, rc *RunContext) error {
		*calls = append(*calls, name)
		rc.AddArtifacts(filepath.Join(rc.RunDir, name+".txt"))
		return err
	})
}

func TestRegistryResolve(t *testing.T) {
	reg := NewDefaultRegistry(Deps{})

	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{"letters", []string{"B", "C", "D", "Gate", "G", "E", "H", "F"}, DefaultSteps, false},
		{"case insensitive", []string{"GATE", "Publish", "c"}, []string{StepGate, StepPublish, StepCompile}, false},
		{"caller order kept", []string{"release", "compile"}, []string{StepRelease, StepCompile}, false},
		{"unknown", []string{"gate", "deploy"}, nil, true},
		{"empty", []string{" "}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Resolve(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStep)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistryExtraStepShadowsAlias(t *testing.T) {
	reg := NewDefaultRegistry(Deps{})
	reg.Register("H", func(context.Context, *RunContext) error { return nil })

	got, err := reg.Resolve([]string{"h"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h"}, got)
}

func TestParseSteps(t *testing.T) {
	assert.Equal(t, []string{"C", "D", "Gate"}, ParseSteps(" C, D,,Gate "))
	assert.Nil(t, ParseSteps(""))
}

func TestRunGateWithoutOutline(t *testing.T) {
	r, layout := newRunner(t, NewDefaultRegistry(Deps{}), Options{Steps: []string{"Gate"}})

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Equal(t, 1, outcome.ExitCode())

	m, err := LoadManifest(layout.RunDir("run_test"))
	require.NoError(t, err)
	require.Len(t, m.Steps, 1)
	assert.Equal(t, StepGate, m.Steps[0].Name)
	assert.Equal(t, models.StepFail, m.Steps[0].Status)
	assert.Contains(t, m.Steps[0].Error, "no outline found")
	assert.Nil(t, m.QA.GateStatus, "gate never executed")

	final, err := LoadFinal(layout.RunDir("run_test"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, final.Status)
	assert.Equal(t, "Step gate failed", final.Reason)
}

func TestRunGateFailureStopsPipeline(t *testing.T) {
	reg := NewDefaultRegistry(Deps{})
	var calls []string
	recordingStep(reg, StepPublish, &calls, nil)

	r, layout := newRunner(t, reg, Options{
		Steps:  []string{"Gate", "Publish"},
		Policy: models.Policy{RequireGatePass: true},
	})
	writeOutline(t, layout, "book", failingOutline)

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeGateFailure, outcome)
	assert.Equal(t, 2, outcome.ExitCode())
	assert.Empty(t, calls)

	m := r.Manifest()
	require.Len(t, m.Steps, 2)
	assert.Equal(t, models.StepOK, m.Steps[0].Status, "gate executed")
	assert.Equal(t, []string{filepath.Join(layout.RunDir("run_test"), GateReportFile)}, m.Steps[0].Artifacts)
	assert.Equal(t, models.StepSkipped, m.Steps[1].Status)
	assert.Equal(t, ReasonGateFailure, m.Steps[1].Error)
	require.NotNil(t, m.QA.GateStatus)
	assert.Equal(t, models.GateFail, *m.QA.GateStatus)

	final, err := LoadFinal(layout.RunDir("run_test"))
	require.NoError(t, err)
	assert.Equal(t, "Gate FAIL", final.Reason)
}

func TestRunGateFailureNotRequired(t *testing.T) {
	reg := NewDefaultRegistry(Deps{})
	var calls []string
	recordingStep(reg, StepPublish, &calls, nil)

	r, layout := newRunner(t, reg, Options{Steps: []string{"gate", "publish"}})
	writeOutline(t, layout, "book", failingOutline)

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, outcome)
	assert.Equal(t, []string{StepPublish}, calls)
	assert.Equal(t, models.GateFail, *r.Manifest().QA.GateStatus)
}

func TestRunFailureSkipsRemaining(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	recordingStep(reg, "one", &calls, nil)
	recordingStep(reg, "two", &calls, errors.New("boom"))
	recordingStep(reg, "three", &calls, nil)
	recordingStep(reg, "four", &calls, nil)

	r, _ := newRunner(t, reg, Options{Steps: []string{"one", "two", "three", "four"}})

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Equal(t, []string{"one", "two"}, calls)

	m := r.Manifest()
	statuses := make([]string, len(m.Steps))
	for i, s := range m.Steps {
		statuses[i] = s.Status
	}
	assert.Equal(t, []string{models.StepOK, models.StepFail, models.StepSkipped, models.StepSkipped}, statuses)
	assert.Equal(t, "boom", m.Steps[1].Error)
	assert.Equal(t, ReasonPriorFailure, m.Steps[2].Error)
	assert.Equal(t, ReasonPriorFailure, m.Steps[3].Error)
}

func TestRunManifestIsComplete(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	recordingStep(reg, "one", &calls, nil)
	recordingStep(reg, "two", &calls, nil)

	r, layout := newRunner(t, reg, Options{
		BookID: "fin-book",
		Steps:  []string{"one", "two"},
		Policy: models.Policy{RequireGatePass: true},
	})

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, outcome)

	data, err := os.ReadFile(filepath.Join(layout.RunDir("run_test"), ManifestFile))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"run_id", "book_id", "source_path", "created_at", "steps", "qa", "policy", "outcome", "metrics"} {
		assert.Contains(t, raw, key)
	}

	m, err := LoadManifest(layout.RunDir("run_test"))
	require.NoError(t, err)
	assert.Equal(t, "fin-book", m.BookID)
	assert.Equal(t, layout.BlocksPath("fin-book"), m.SourcePath)
	assert.True(t, m.Policy.RequireGatePass)
	for _, s := range m.Steps {
		assert.Equal(t, models.StepOK, s.Status)
		assert.False(t, s.StartedAt.IsZero())
		assert.False(t, s.EndedAt.Before(s.StartedAt))
		assert.GreaterOrEqual(t, s.DurationSec, 0.0)
		assert.Len(t, s.Artifacts, 1)
	}
	ops := m.Metrics["operations"].(map[string]any)
	assert.Contains(t, ops, metrics.StepOp("one"))
	assert.Contains(t, ops, metrics.StepOp("two"))

	_, err = os.Stat(layout.LockPath("fin-book"))
	assert.True(t, os.IsNotExist(err), "lock released")
}

func TestRunUnknownStepRunsNothing(t *testing.T) {
	r, layout := newRunner(t, NewDefaultRegistry(Deps{}), Options{Steps: []string{"C", "Z"}})

	outcome, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.Equal(t, 1, outcome.ExitCode())
	assert.Nil(t, r.Manifest())

	_, statErr := os.Stat(layout.RunDir("run_test"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunHeldLock(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	recordingStep(reg, "one", &calls, nil)
	r, layout := newRunner(t, reg, Options{Steps: []string{"one"}, LockTTL: time.Hour})

	held, err := AcquireLock(layout.LockPath("book"), "other_run", time.Hour, nil)
	require.NoError(t, err)

	outcome, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "other_run")
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Empty(t, calls)

	require.NoError(t, held.Release())
	outcome, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, outcome)
}

func TestAcquireLockBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	stale := `{"owner":"x","run_id":"old","pid":1,"created_at":"2020-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(stale), 0o644))

	_, err := AcquireLock(path, "new", 0, nil)
	assert.ErrorIs(t, err, ErrLocked, "ttl 0 never breaks")

	lock, err := AcquireLock(path, "new", time.Hour, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var info lockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "new", info.RunID)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Owner)

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunStepTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register("slow", func(ctx context.Context, _ *RunContext) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r, _ := newRunner(t, reg, Options{Steps: []string{"slow"}, StepTimeout: 10 * time.Millisecond})

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Contains(t, r.Manifest().Steps[0].Error, "timed out")
}

func TestRunRecoversPanickingStep(t *testing.T) {
	reg := NewRegistry()
	reg.Register("bad", func(context.Context, *RunContext) error { panic("nil map") })
	r, _ := newRunner(t, reg, Options{Steps: []string{"bad"}})

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Contains(t, r.Manifest().Steps[0].Error, "panicked: nil map")
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) OnStepStart(name string, _, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "start:"+name)
}

func (o *recordingObserver) OnStepEnd(res models.StepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, res.Status+":"+res.Name)
}

func TestRunNotifiesObserver(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	recordingStep(reg, "one", &calls, errors.New("boom"))
	recordingStep(reg, "two", &calls, nil)
	obs := &recordingObserver{}
	r, _ := newRunner(t, reg, Options{Steps: []string{"one", "two"}})

	_, err := r.WithObserver(obs).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"start:one", "fail:one", "skipped:two"}, obs.events)
}

func TestReleaseSummary(t *testing.T) {
	reg := NewDefaultRegistry(Deps{})
	var calls []string
	recordingStep(reg, StepPublish, &calls, nil)

	t.Run("success", func(t *testing.T) {
		r, layout := newRunner(t, reg, Options{Steps: []string{"gate", "publish", "release"}})
		writeOutline(t, layout, "book", passingOutline)

		outcome, err := r.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, models.OutcomeSuccess, outcome)

		data, err := os.ReadFile(filepath.Join(layout.RunDir("run_test"), ReleaseDir, SummaryFile))
		require.NoError(t, err)
		summary := string(data)
		assert.Contains(t, summary, "# Release Summary: book")
		assert.Contains(t, summary, "**Status**: SUCCESS")
		assert.Contains(t, summary, "- Quality Gate: **PASS**")
		assert.Contains(t, summary, "| gate | ok |")
		assert.Contains(t, summary, "- **Formula coverage**: 100.0%")
	})

	t.Run("gate failure", func(t *testing.T) {
		r, layout := newRunner(t, reg, Options{
			Steps:  []string{"gate", "publish", "release"},
			Policy: models.Policy{RequireGatePass: true},
		})
		writeOutline(t, layout, "book", failingOutline)

		outcome, err := r.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, models.OutcomeGateFailure, outcome)
		assert.Equal(t, models.StepSkipped, r.Manifest().Steps[2].Status)

		data, err := os.ReadFile(filepath.Join(layout.RunDir("run_test"), ReleaseDir, SummaryFile))
		require.NoError(t, err)
		summary := string(data)
		assert.Contains(t, summary, "**Exit Code**: 2")
		assert.Contains(t, summary, "Pipeline stopped: Quality Gate FAIL")
		assert.Contains(t, summary, "- Blockers: **2** issues")
		assert.Contains(t, summary, "BQG_STAGE_DESC_EMPTY")
	})
}

func TestPipelineEndToEnd(t *testing.T) {
	mem := store.NewMemory()
	deps := Deps{
		Compiler:  compile.New(nil),
		Reviewer:  Provide(review.New(nil, nil)),
		Glossary:  Provide(glossary.New(mem, glossary.Options{Repo: "kb", Ref: "main"}, nil)),
		Publisher: Provide(publish.New(mem, publish.Options{Repo: "kb", Ref: "main"}, nil)),
	}
	r, layout := newRunner(t, NewDefaultRegistry(deps), Options{
		BookID: "liquidity",
		Steps:  []string{"C", "D", "Gate", "G", "E", "F"},
		Policy: models.Policy{RequireGatePass: true, SkipQA: true},
	})
	writeOutline(t, layout, "liquidity", passingOutline)
	glossaryFile := filepath.Join(layout.GlossaryDir(), "ratios.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(glossaryFile), 0o755))
	require.NoError(t, os.WriteFile(glossaryFile, []byte("term_id: term_current_ratio\nname: Current ratio\n"), 0o644))

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	m := r.Manifest()
	for _, s := range m.Steps {
		assert.Equal(t, models.StepOK, s.Status, "%s: %s", s.Name, s.Error)
	}
	assert.Equal(t, models.OutcomeSuccess, outcome)

	require.NotNil(t, m.QA.Approved)
	require.NotNil(t, m.QA.GateStatus)
	assert.Equal(t, models.GatePass, *m.QA.GateStatus)

	assert.NotNil(t, mem.Record(store.CollMethodology, "liquidity"))
	assert.Equal(t, 2, mem.Count(store.RelHasStage))
	assert.NotNil(t, mem.Record(store.CollTerm, "term_current_ratio"))

	for _, path := range []string{
		layout.RecordPath("liquidity"),
		filepath.Join(layout.QADir("liquidity"), review.ResultFile),
		filepath.Join(layout.PublishDir("liquidity"), publish.ReportFile),
		layout.GlossaryReportPath(),
		filepath.Join(layout.RunDir("run_test"), ReleaseDir, SummaryFile),
	} {
		assert.FileExists(t, path)
	}
}

func TestPublishWithoutReviewIsNotApproved(t *testing.T) {
	mem := store.NewMemory()
	deps := Deps{
		Compiler:  compile.New(nil),
		Publisher: Provide(publish.New(mem, publish.Options{}, nil)),
	}
	r, layout := newRunner(t, NewDefaultRegistry(deps), Options{Steps: []string{"compile", "publish"}})
	writeOutline(t, layout, "book", passingOutline)

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Contains(t, r.Manifest().Steps[1].Error, "not approved")
	assert.Zero(t, mem.Count(store.CollMethodology))
}

func TestUnconfiguredStepFails(t *testing.T) {
	r, _ := newRunner(t, NewDefaultRegistry(Deps{}), Options{Steps: []string{"H"}})

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)
	assert.Contains(t, r.Manifest().Steps[0].Error, "not configured")
}

func TestComponentInitFailureIsStepFailure(t *testing.T) {
	dialErr := errors.New("connect ws://127.0.0.1:1: connection refused")
	deps := Deps{
		Publisher: func(context.Context) (*publish.Publisher, error) {
			return nil, dialErr
		},
	}
	r, layout := newRunner(t, NewDefaultRegistry(deps), Options{
		Steps:  []string{"gate", "publish", "release"},
		Policy: models.Policy{RequireGatePass: true, SkipQA: true},
	})
	writeOutline(t, layout, "book", passingOutline)

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExecutionError, outcome)

	m, err := LoadManifest(layout.RunDir("run_test"))
	require.NoError(t, err)
	require.Len(t, m.Steps, 3)
	assert.Equal(t, models.StepOK, m.Steps[0].Status)
	assert.Equal(t, models.StepFail, m.Steps[1].Status)
	assert.Contains(t, m.Steps[1].Error, "step publish: init")
	assert.Contains(t, m.Steps[1].Error, "connection refused")
	assert.Equal(t, models.StepSkipped, m.Steps[2].Status)
}

func TestSkippedStepsNeverBuildComponents(t *testing.T) {
	built := 0
	deps := Deps{
		Publisher: func(context.Context) (*publish.Publisher, error) {
			built++
			return nil, errors.New("unreachable store")
		},
	}
	r, layout := newRunner(t, NewDefaultRegistry(deps), Options{
		Steps:  []string{"gate", "publish"},
		Policy: models.Policy{RequireGatePass: true},
	})
	writeOutline(t, layout, "book", failingOutline)

	outcome, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeGateFailure, outcome)
	assert.Equal(t, 2, outcome.ExitCode())
	assert.Zero(t, built)

	steps := r.Manifest().Steps
	assert.Equal(t, models.StepOK, steps[0].Status)
	assert.Equal(t, models.StepSkipped, steps[1].Status)
	assert.Equal(t, ReasonGateFailure, steps[1].Error)
}
