package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStatusSerialization(t *testing.T) {
	st := Status{
		Kind:       MessageKindStatus,
		Target:     "UI",
		Phase:      PhaseDone,
		Errors:     []string{"src/App.vue:3:1 Unexpected token"},
		Files:      []string{"index.html", "assets/index.js"},
		DurationMs: 412,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("failed to marshal status: %v", err)
	}

	var decoded Status
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}

	if diff := cmp.Diff(st, decoded); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if !decoded.Failed() {
		t.Error("status with errors should report failure")
	}
}

func TestStatusWireFormat(t *testing.T) {
	line := `{"kind":"status","phase":"compiling"}`

	var st Status
	if err := json.Unmarshal([]byte(line), &st); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}
	if st.Phase != PhaseCompiling {
		t.Errorf("phase = %q, want %q", st.Phase, PhaseCompiling)
	}
	if st.Failed() {
		t.Error("status without errors should not report failure")
	}
}

func TestEventOmitsEmptyFields(t *testing.T) {
	evt := Event{
		Kind:       MessageKindEvent,
		RunID:      "run-1",
		Seq:        3,
		Event:      EventHookFailed,
		Hook:       "beforeBuild",
		Status:     StatusFailed,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	for _, key := range []string{"target", "extension_id", "payload", "error"} {
		if _, ok := raw[key]; ok {
			t.Errorf("expected %q to be omitted", key)
		}
	}
	if raw["hook"] != "beforeBuild" {
		t.Errorf("hook = %v, want beforeBuild", raw["hook"])
	}
}
