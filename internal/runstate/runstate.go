// Package runstate holds the persisted report of one build run. It is written
// to .quasar/build-report.json after every phase so a failed build leaves a
// record of how far it got.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quasarcli/quasar/internal/artifacts"
	"github.com/quasarcli/quasar/internal/fsutil"
)

// Status represents the overall state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Phase is one step of a build, in the order they run.
type Phase string

const (
	PhaseCleaning    Phase = "cleaning"
	PhaseEntryFiles  Phase = "entry-files"
	PhaseBeforeBuild Phase = "before-build"
	PhaseCompiling   Phase = "compiling"
	PhasePackaging   Phase = "packaging"
	PhaseAfterBuild  Phase = "after-build"
	PhasePublishing  Phase = "publishing"
	PhaseComplete    Phase = "complete"
)

// TargetState is the outcome of one sub-target compile.
type TargetState struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Files      []string `json:"files,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// RunState represents the persisted state of a build run
type RunState struct {
	RunID        string              `json:"run_id"`
	Mode         string              `json:"mode"`
	Target       string              `json:"target,omitempty"`
	Status       Status              `json:"status"`
	CurrentPhase Phase               `json:"current_phase"`
	DistDir      string              `json:"dist_dir"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	Targets      []TargetState       `json:"targets"`
	Manifest     *artifacts.Manifest `json:"manifest,omitempty"`
	Published    string              `json:"published,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// NewRunState creates a new run state
func NewRunState(runID, mode, target, distDir string) *RunState {
	return &RunState{
		RunID:        runID,
		Mode:         mode,
		Target:       target,
		Status:       StatusRunning,
		CurrentPhase: PhaseCleaning,
		DistDir:      distDir,
		StartedAt:    time.Now().UTC(),
		Targets:      []TargetState{},
	}
}

// SaveRunState writes run state to disk atomically
func SaveRunState(state *RunState, path string) error {
	return fsutil.AtomicWriteJSON(path, state)
}

// LoadRunState reads run state from disk
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	if state.Targets == nil {
		state.Targets = []TargetState{}
	}

	return &state, nil
}

// MarkSucceeded marks the run as succeeded
func (s *RunState) MarkSucceeded() {
	s.Status = StatusSucceeded
	s.CurrentPhase = PhaseComplete
	now := time.Now().UTC()
	s.CompletedAt = &now
}

// MarkFailed marks the run as failed, keeping the phase it failed in.
func (s *RunState) MarkFailed(err error) {
	s.Status = StatusFailed
	if err != nil {
		s.Error = err.Error()
	}
	now := time.Now().UTC()
	s.CompletedAt = &now
}

// SetPhase updates the current phase
func (s *RunState) SetPhase(phase Phase) {
	s.CurrentPhase = phase
}

// RecordTarget records the outcome of a sub-target, replacing an earlier
// record with the same name.
func (s *RunState) RecordTarget(ts TargetState) {
	for i := range s.Targets {
		if s.Targets[i].Name == ts.Name {
			s.Targets[i] = ts
			return
		}
	}
	s.Targets = append(s.Targets, ts)
}

// Succeeded returns the targets that compiled, in record order.
func (s *RunState) Succeeded() []string {
	var out []string
	for _, t := range s.Targets {
		if t.Status == StatusSucceeded {
			out = append(out, t.Name)
		}
	}
	return out
}

// Duration is the wall time of a finished run.
func (s *RunState) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
