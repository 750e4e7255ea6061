// Package protocol defines the messages exchanged with bundler processes, the
// lifecycle events written to the event log, and the snapshots served by the
// dev status hub.
package protocol

import (
	"time"
)

// MessageKind represents the envelope type
type MessageKind string

const (
	MessageKindStatus MessageKind = "status"
	MessageKindLog    MessageKind = "log"
	MessageKindEvent  MessageKind = "event"
	MessageKindDev    MessageKind = "dev"
)

// Phase is the compile phase a bundler reports.
type Phase string

const (
	PhaseCompiling Phase = "compiling"
	PhaseDone      Phase = "done"
)

// Status is written by a watching bundler on stdout, one per line. A done
// status with no errors is a successful compile.
type Status struct {
	Kind       MessageKind `json:"kind"`
	Target     string      `json:"target,omitempty"`
	Phase      Phase       `json:"phase"`
	Errors     []string    `json:"errors,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Files      []string    `json:"files,omitempty"`
	URL        string      `json:"url,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Failed reports whether the status carries compile errors.
func (s Status) Failed() bool {
	return len(s.Errors) > 0
}

// LogLevel represents log severity
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Log is a diagnostic message from a bundler process
type Log struct {
	Kind      MessageKind    `json:"kind"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event is one lifecycle record of a build or dev run.
type Event struct {
	Kind        MessageKind    `json:"kind"`
	RunID       string         `json:"run_id"`
	Seq         int64          `json:"seq"`
	Event       string         `json:"event"`
	Mode        string         `json:"mode,omitempty"`
	Phase       string         `json:"phase,omitempty"`
	Target      string         `json:"target,omitempty"`
	Hook        string         `json:"hook,omitempty"`
	ExtensionID string         `json:"extension_id,omitempty"`
	State       string         `json:"state,omitempty"`
	Status      string         `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// TargetStatus is the last known state of one sub-target in a dev session.
type TargetStatus struct {
	Name   string   `json:"name"`
	Phase  Phase    `json:"phase"`
	Errors []string `json:"errors,omitempty"`
	URL    string   `json:"url,omitempty"`
}

// DevStatus is the snapshot served and broadcast by the dev status hub.
type DevStatus struct {
	Kind      MessageKind    `json:"kind"`
	SessionID string         `json:"session_id"`
	Mode      string         `json:"mode"`
	State     string         `json:"state"`
	Targets   []TargetStatus `json:"targets"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Well-known event types
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"

	EventPhaseStarted   = "phase.started"
	EventPhaseCompleted = "phase.completed"

	EventHookStarted   = "hook.started"
	EventHookCompleted = "hook.completed"
	EventHookFailed    = "hook.failed"

	EventTargetCompiled = "target.compiled"
	EventTargetFailed   = "target.failed"

	EventDevTransition  = "dev.transition"
	EventDevReconfigure = "dev.reconfigure"
	EventDevCompile     = "dev.compile"

	EventPublished = "publish.completed"
)

// Event statuses
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
