// Package eventlog appends the lifecycle events of one build or dev run to an
// NDJSON file under .quasar/events.
package eventlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quasarcli/quasar/internal/ndjson"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/internal/workspace"
)

// EventLog writes protocol messages to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
	runID   string
	seq     int64
}

// PathFor returns the log path of runID inside the app workspace.
func PathFor(layout workspace.Layout, runID string) string {
	return filepath.Join(layout.EventsDir(), runID+".ndjson")
}

// Open creates the event log of runID inside the app workspace.
func Open(layout workspace.Layout, runID string, logger *slog.Logger) (*EventLog, error) {
	l, err := NewEventLog(PathFor(layout, runID), logger)
	if err != nil {
		return nil, err
	}
	l.runID = runID
	return l, nil
}

// NewEventLog creates a new event log
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
		logger:  logger,
	}, nil
}

// WriteEvent stamps evt with the run id, the next sequence number and a
// timestamp when missing, then appends it.
func (l *EventLog) WriteEvent(evt *protocol.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("event log is closed")
	}

	l.seq++
	evt.Kind = protocol.MessageKindEvent
	evt.Seq = l.seq
	if evt.RunID == "" {
		evt.RunID = l.runID
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	return l.encoder.Encode(evt)
}

// WriteStatus records a compile status reported by a bundler.
func (l *EventLog) WriteStatus(st *protocol.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("event log is closed")
	}
	st.Kind = protocol.MessageKindStatus
	return l.encoder.Encode(st)
}

// WriteDev records a dev status snapshot.
func (l *EventLog) WriteDev(ds *protocol.DevStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("event log is closed")
	}
	ds.Kind = protocol.MessageKindDev
	return l.encoder.Encode(ds)
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadEvents returns the events recorded at path, skipping other message kinds.
func ReadEvents(path string, logger *slog.Logger) ([]*protocol.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	var events []*protocol.Event
	decoder := ndjson.NewDecoder(file, logger)
	for {
		msg, err := decoder.DecodeEnvelope()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if evt, ok := msg.(*protocol.Event); ok {
			events = append(events, evt)
		}
	}
}
