// Package orchestrator runs pipeline steps in order, enforces the gate policy
// and records every transition in a run manifest.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Canonical step names.
const (
	StepExtraction   = "extraction"
	StepCompile      = "compile"
	StepReview       = "review"
	StepGate         = "gate"
	StepGlossarySync = "glossary-sync"
	StepPublish      = "publish"
	StepSemanticLink = "semantic-link"
	StepRelease      = "release"
)

// DefaultSteps is the full pipeline in execution order.
var DefaultSteps = []string{
	StepExtraction,
	StepCompile,
	StepReview,
	StepGate,
	StepGlossarySync,
	StepPublish,
	StepSemanticLink,
	StepRelease,
}

// ErrUnknownStep is returned when a requested step is not registered.
var ErrUnknownStep = errors.New("unknown step")

// letter aliases, lowercased
var aliases = map[string]string{
	"b":    StepExtraction,
	"c":    StepCompile,
	"d":    StepReview,
	"gate": StepGate,
	"g":    StepGlossarySync,
	"e":    StepPublish,
	"h":    StepSemanticLink,
	"f":    StepRelease,
}

// StepFunc executes one step. Artifacts written by the step are reported
// through the RunContext.
type StepFunc func(ctx context.Context, rc *RunContext) error

// Registry maps step names to their implementations.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]StepFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]StepFunc)}
}

// Register adds or replaces a step. Names are case-insensitive.
func (r *Registry) Register(name string, fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[strings.ToLower(strings.TrimSpace(name))] = fn
}

// Names lists the registered steps, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.steps))
	for name := range r.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve maps requested names and aliases to canonical registered names,
// keeping the caller's order. Any unknown name fails the whole request.
func (r *Registry) Resolve(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(names))
	var unknown []string
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, ok := r.steps[name]; !ok {
			if canonical, isAlias := aliases[name]; isAlias {
				name = canonical
			}
		}
		if _, ok := r.steps[name]; !ok {
			unknown = append(unknown, raw)
			continue
		}
		out = append(out, name)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknownStep, strings.Join(unknown, ", "), strings.Join(r.names(), ", "))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no steps requested", ErrUnknownStep)
	}
	return out, nil
}

func (r *Registry) get(name string) StepFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.steps[name]
}

// ParseSteps splits a comma-separated step list such as "C,D,Gate".
func ParseSteps(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
