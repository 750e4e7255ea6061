package runstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quasarcli/quasar/internal/artifacts"
)

func TestNewRunState(t *testing.T) {
	state := NewRunState("run-abc123", "cordova", "ios", "/app/dist/cordova")

	if state.RunID != "run-abc123" {
		t.Errorf("RunID = %s, want run-abc123", state.RunID)
	}

	if state.Mode != "cordova" || state.Target != "ios" {
		t.Errorf("Mode/Target = %s/%s, want cordova/ios", state.Mode, state.Target)
	}

	if state.Status != StatusRunning {
		t.Errorf("Status = %s, want %s", state.Status, StatusRunning)
	}

	if state.CurrentPhase != PhaseCleaning {
		t.Errorf("CurrentPhase = %s, want %s", state.CurrentPhase, PhaseCleaning)
	}

	if state.StartedAt.IsZero() {
		t.Error("StartedAt is zero")
	}
}

func TestSaveAndLoadRunState(t *testing.T) {
	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, ".quasar", "build-report.json")

	original := NewRunState("run-001", "spa", "", "/app/dist/spa")
	original.SetPhase(PhaseCompiling)
	original.RecordTarget(TargetState{Name: "UI", Status: StatusSucceeded, Files: []string{"index.html"}, DurationMs: 12})
	original.Manifest = &artifacts.Manifest{ID: "out-abc", Root: "/app/dist/spa", Files: []artifacts.FileInfo{{Path: "index.html", Size: 3}}}

	if err := SaveRunState(original, statePath); err != nil {
		t.Fatalf("SaveRunState() error = %v", err)
	}

	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		t.Fatal("state file not created")
	}

	loaded, err := LoadRunState(statePath)
	if err != nil {
		t.Fatalf("LoadRunState() error = %v", err)
	}

	if loaded.RunID != original.RunID {
		t.Errorf("RunID = %s, want %s", loaded.RunID, original.RunID)
	}

	if loaded.CurrentPhase != PhaseCompiling {
		t.Errorf("CurrentPhase = %s, want %s", loaded.CurrentPhase, PhaseCompiling)
	}

	if len(loaded.Targets) != 1 || loaded.Targets[0].Files[0] != "index.html" {
		t.Errorf("Targets = %+v", loaded.Targets)
	}

	if loaded.Manifest == nil || !loaded.Manifest.Has("index.html") {
		t.Errorf("Manifest not restored: %+v", loaded.Manifest)
	}
}

func TestLoadRunStateMissing(t *testing.T) {
	if _, err := LoadRunState(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMarkSucceeded(t *testing.T) {
	state := &RunState{
		RunID:        "run-001",
		Status:       StatusRunning,
		CurrentPhase: PhaseAfterBuild,
		StartedAt:    time.Now().UTC().Add(-1 * time.Hour),
	}

	state.MarkSucceeded()

	if state.Status != StatusSucceeded {
		t.Errorf("Status = %s, want %s", state.Status, StatusSucceeded)
	}

	if state.CurrentPhase != PhaseComplete {
		t.Errorf("CurrentPhase = %s, want %s", state.CurrentPhase, PhaseComplete)
	}

	if state.CompletedAt == nil {
		t.Fatal("CompletedAt is nil")
	}

	if state.Duration() < time.Hour {
		t.Errorf("Duration = %s, want at least 1h", state.Duration())
	}
}

func TestMarkFailedKeepsPhase(t *testing.T) {
	state := &RunState{
		RunID:        "run-001",
		Status:       StatusRunning,
		CurrentPhase: PhaseCompiling,
	}

	state.MarkFailed(errors.New("compile failed"))

	if state.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", state.Status, StatusFailed)
	}

	if state.CurrentPhase != PhaseCompiling {
		t.Errorf("CurrentPhase = %s, want %s", state.CurrentPhase, PhaseCompiling)
	}

	if state.Error != "compile failed" {
		t.Errorf("Error = %q", state.Error)
	}

	if state.CompletedAt == nil {
		t.Error("CompletedAt should be set on failure")
	}
}

func TestRecordTarget(t *testing.T) {
	state := NewRunState("run-001", "bex", "", "/dist")

	state.RecordTarget(TargetState{Name: "UI", Status: StatusRunning})
	state.RecordTarget(TargetState{Name: "Background Script", Status: StatusFailed})
	state.RecordTarget(TargetState{Name: "UI", Status: StatusSucceeded})

	if len(state.Targets) != 2 {
		t.Fatalf("Targets count = %d, want 2", len(state.Targets))
	}

	if state.Targets[0].Status != StatusSucceeded {
		t.Errorf("UI status = %s, want %s", state.Targets[0].Status, StatusSucceeded)
	}

	got := state.Succeeded()
	if len(got) != 1 || got[0] != "UI" {
		t.Errorf("Succeeded() = %v, want [UI]", got)
	}
}

func TestDurationUnfinished(t *testing.T) {
	state := NewRunState("run-001", "spa", "", "/dist")
	if state.Duration() != 0 {
		t.Errorf("Duration = %s, want 0", state.Duration())
	}
}
