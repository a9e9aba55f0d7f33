package models

import "time"

// Step statuses recorded in a manifest.
const (
	StepOK      = "ok"
	StepFail    = "fail"
	StepSkipped = "skipped"
)

// Gate statuses.
const (
	GatePass = "PASS"
	GateFail = "FAIL"
)

// Outcome is the terminal state of an orchestrator run.
type Outcome string

// Terminal states. Each maps to a distinct process exit code.
const (
	OutcomeSuccess        Outcome = "success"
	OutcomeExecutionError Outcome = "execution_error"
	OutcomeGateFailure    Outcome = "gate_failure"
)

// ExitCode maps an outcome to the process exit code.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeGateFailure:
		return 2
	default:
		return 1
	}
}

// StepResult is one manifest entry.
type StepResult struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationSec float64   `json:"duration_sec"`
	Artifacts   []string  `json:"artifacts"`
	Error       string    `json:"error,omitempty"`
}

// QARecord aggregates gate and review results for a run.
type QARecord struct {
	GateStatus *string `json:"gate_status"`
	Approved   *bool   `json:"approved"`
	Blockers   *int    `json:"blockers"`
	Warnings   *int    `json:"warnings"`
}

// Policy captures the gating policy of a run.
type Policy struct {
	RequireGatePass bool `json:"require_gate_pass"`
	SkipQA          bool `json:"skip_qa"`
}

// RunManifest is the durable record of one orchestrator run.
type RunManifest struct {
	RunID      string         `json:"run_id"`
	BookID     string         `json:"book_id"`
	SourcePath string         `json:"source_path"`
	CreatedAt  time.Time      `json:"created_at"`
	Steps      []StepResult   `json:"steps"`
	QA         QARecord       `json:"qa"`
	Policy     Policy         `json:"policy"`
	Outcome    Outcome        `json:"outcome,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}
