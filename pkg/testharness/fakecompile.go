package testharness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quasarcli/quasar/internal/protocol"
)

// SyntaxErrorMarker makes a fake compile fail when present in an entry file.
const SyntaxErrorMarker = "SYNTAX ERROR"

// FakeTarget is the part of a bundler target file the fake compilers read.
type FakeTarget struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Entry   string `json:"entry"`
	OutDir  string `json:"outDir"`
	OutFile string `json:"outFile"`
}

// FakeCompile "compiles" t by copying its entry into the output path and
// returns the done status a real tool would report.
func FakeCompile(t FakeTarget) (st protocol.Status) {
	start := time.Now()
	st = protocol.Status{
		Kind:       protocol.MessageKindStatus,
		Target:     t.Name,
		Phase:      protocol.PhaseDone,
		OccurredAt: start.UTC(),
	}
	defer func() { st.DurationMs = time.Since(start).Milliseconds() }()

	var content []byte
	if t.Entry != "" {
		data, err := os.ReadFile(t.Entry)
		if err != nil {
			st.Errors = []string{fmt.Sprintf("%s: cannot read entry: %v", t.Entry, err)}
			return st
		}
		if strings.Contains(string(data), SyntaxErrorMarker) {
			st.Errors = []string{fmt.Sprintf("%s:1:1: Unexpected token", t.Entry)}
			return st
		}
		content = data
	}

	out := FakeOutput(t)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		st.Errors = []string{err.Error()}
		return st
	}
	if err := os.WriteFile(out, content, 0o644); err != nil {
		st.Errors = []string{err.Error()}
		return st
	}

	rel, err := filepath.Rel(t.OutDir, out)
	if err != nil {
		rel = filepath.Base(out)
	}
	st.Files = []string{filepath.ToSlash(rel)}
	return st
}

// FakeOutput is the file FakeCompile writes for t.
func FakeOutput(t FakeTarget) string {
	if t.OutFile != "" {
		return t.OutFile
	}
	name := "index.html"
	switch t.Kind {
	case "server":
		name = "server-entry.js"
	case "packager":
		name = strings.ReplaceAll(strings.ToLower(t.Name), " ", "-") + ".pkg"
	}
	return filepath.Join(t.OutDir, name)
}
