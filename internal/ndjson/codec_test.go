package ndjson

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quasarcli/quasar/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncoderDecoderStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger()

	encoder := NewEncoder(&buf, logger)
	decoder := NewDecoder(&buf, logger)

	st := protocol.Status{
		Kind:       protocol.MessageKindStatus,
		Target:     "UI",
		Phase:      protocol.PhaseDone,
		Files:      []string{"index.html"},
		OccurredAt: time.Now().UTC(),
	}

	if err := encoder.Encode(st); err != nil {
		t.Fatalf("failed to encode status: %v", err)
	}

	var decoded protocol.Status
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}

	if decoded.Target != st.Target {
		t.Errorf("target mismatch: got %s, want %s", decoded.Target, st.Target)
	}
	if decoded.Phase != st.Phase {
		t.Errorf("phase mismatch: got %s, want %s", decoded.Phase, st.Phase)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantType string
		wantErr  bool
	}{
		{name: "status", line: `{"kind":"status","phase":"done"}`, wantType: "*protocol.Status"},
		{name: "log", line: `{"kind":"log","level":"info","message":"hi"}`, wantType: "*protocol.Log"},
		{name: "event", line: `{"kind":"event","run_id":"r","event":"run.started"}`, wantType: "*protocol.Event"},
		{name: "dev", line: `{"kind":"dev","state":"running"}`, wantType: "*protocol.DevStatus"},
		{name: "unknown kind", line: `{"kind":"heartbeat"}`, wantErr: true},
		{name: "missing kind", line: `{"phase":"done"}`, wantErr: true},
		{name: "invalid json", line: `{"kind":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder := NewDecoder(strings.NewReader(tt.line+"\n"), testLogger())
			msg, err := decoder.DecodeEnvelope()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %T", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := typeName(msg); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *protocol.Status:
		return "*protocol.Status"
	case *protocol.Log:
		return "*protocol.Log"
	case *protocol.Event:
		return "*protocol.Event"
	case *protocol.DevStatus:
		return "*protocol.DevStatus"
	}
	return "unknown"
}

func TestEncoderSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, testLogger())

	st := protocol.Status{
		Kind:   protocol.MessageKindStatus,
		Phase:  protocol.PhaseDone,
		Errors: []string{strings.Repeat("x", MaxMessageSize)},
	}

	if err := encoder.Encode(st); err == nil {
		t.Fatal("expected size limit error")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written on failure, got %d bytes", buf.Len())
	}
}

func TestDecoderSizeLimit(t *testing.T) {
	line := `{"kind":"log","message":"` + strings.Repeat("x", MaxMessageSize) + `"}` + "\n"
	decoder := NewDecoder(strings.NewReader(line), testLogger())

	var msg map[string]any
	if err := decoder.Decode(&msg); err == nil {
		t.Fatal("expected error for oversized line")
	}
}

func TestDecoderEmptyLines(t *testing.T) {
	input := "\n\n" + `{"kind":"status","phase":"compiling"}` + "\n\n"
	decoder := NewDecoder(strings.NewReader(input), testLogger())

	var st protocol.Status
	if err := decoder.Decode(&st); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if st.Phase != protocol.PhaseCompiling {
		t.Errorf("phase = %s, want compiling", st.Phase)
	}

	if err := decoder.Decode(&st); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestEncoderConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = encoder.Encode(protocol.Status{Kind: protocol.MessageKindStatus, Phase: protocol.PhaseDone})
		}()
	}
	wg.Wait()

	decoder := NewDecoder(&buf, testLogger())
	count := 0
	for {
		msg, err := decoder.DecodeEnvelope()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("interleaved output: %v", err)
		}
		if _, ok := msg.(*protocol.Status); !ok {
			t.Fatalf("unexpected message %T", msg)
		}
		count++
	}
	if count != 20 {
		t.Errorf("decoded %d messages, want 20", count)
	}
}
