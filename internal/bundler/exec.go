package bundler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/ndjson"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/supervisor"
	"github.com/quasarcli/quasar/internal/workspace"
)

// ConfigPlaceholder is replaced in tool commands with the path of the target
// file.
const ConfigPlaceholder = "{config}"

// stderrTail is how many stderr lines a CompileError keeps when the tool
// reported nothing structured.
const stderrTail = 20

// TargetFile is what a tool command finds at {config}.
type TargetFile struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Tool    string            `json:"tool"`
	Entry   string            `json:"entry,omitempty"`
	OutDir  string            `json:"outDir"`
	OutFile string            `json:"outFile,omitempty"`
	Defines map[string]string `json:"defines"`
	Config  map[string]any    `json:"config"`
}

// ExecAdapter drives tools through the shell commands declared in the
// bundlers section. Commands may print NDJSON status messages on stdout; watch
// commands must.
type ExecAdapter struct {
	AppDir string
	Logger *slog.Logger
	// Stderr receives tool diagnostics in addition to the logger. Optional.
	Stderr io.Writer

	consoleMu sync.Mutex
	console   io.Writer
	formatter ConsoleFormatter
}

// ConsoleFormatter renders what watch processes report.
type ConsoleFormatter interface {
	FormatStatus(st *protocol.Status) string
	FormatLog(log *protocol.Log) string
}

// SetTranscript prints the statuses and logs of watch processes to w.
func (a *ExecAdapter) SetTranscript(w io.Writer, formatter ConsoleFormatter) {
	a.console = w
	a.formatter = formatter
}

func (a *ExecAdapter) printStatus(st *protocol.Status) {
	if a.console == nil || a.formatter == nil {
		return
	}
	a.consoleMu.Lock()
	defer a.consoleMu.Unlock()
	fmt.Fprintln(a.console, a.formatter.FormatStatus(st))
}

func (a *ExecAdapter) printLog(target string, l *protocol.Log) {
	if a.console == nil || a.formatter == nil {
		a.Logger.Info(l.Message, "target", target, "level", l.Level)
		return
	}
	a.consoleMu.Lock()
	defer a.consoleMu.Unlock()
	fmt.Fprintf(a.console, "[%s] %s\n", target, a.formatter.FormatLog(l))
}

// NewExecAdapter returns an adapter that runs commands from appDir.
func NewExecAdapter(appDir string, logger *slog.Logger) *ExecAdapter {
	return &ExecAdapter{AppDir: appDir, Logger: logger}
}

// Compile runs the tool's build command to completion.
func (a *ExecAdapter) Compile(ctx context.Context, st resolve.SubTarget) (CompileResult, error) {
	line, err := a.commandLine(st, st.Commands.Build, "build")
	if err != nil {
		return CompileResult{}, err
	}

	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := supervisor.Shell(ctx, line, a.AppDir, a.env(ctx, st))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if a.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, a.Stderr)
	}

	a.Logger.Debug("compiling", "target", st.Name, "tool", st.Tool, "cmd", line)
	runErr := supervisor.Run(cmd)

	status := a.lastDone(&stdout)
	if status != nil && status.Failed() {
		return CompileResult{}, &CompileError{Target: st.Name, Messages: status.Errors, Err: runErr}
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return CompileResult{}, fmt.Errorf("compile of %q cancelled: %w", st.Name, ctx.Err())
		}
		return CompileResult{}, &CompileError{Target: st.Name, Messages: tail(stderr.String(), stderrTail), Err: runErr}
	}

	res := CompileResult{Target: st.Name, OutDir: st.OutDir, Duration: time.Since(start)}
	if status != nil {
		res.Files = status.Files
		res.Warnings = status.Warnings
	} else {
		res.Files = listOutput(st)
	}
	return res, nil
}

// Watch starts the tool's watch command under a supervisor.
func (a *ExecAdapter) Watch(ctx context.Context, st resolve.SubTarget, onReady func(CompileResult), onError func(error)) (ServerHandle, error) {
	line, err := a.commandLine(st, st.Commands.Watch, "watch")
	if err != nil {
		return nil, err
	}

	proc := supervisor.New(st.Name, line, a.AppDir, a.env(ctx, st), a.Logger)
	if err := proc.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watch for %q: %w", st.Name, err)
	}

	h := &execHandle{proc: proc, done: make(chan struct{})}
	go h.consume(ctx, a, st, onReady, onError)
	return h, nil
}

func (a *ExecAdapter) commandLine(st resolve.SubTarget, tmpl, kind string) (string, error) {
	if tmpl == "" {
		return "", fmt.Errorf("no %s command for tool %q (target %q)\n\nHint: declare it in the config file:\n  \"bundlers\": {\"%s\": {\"%s\": \"<command> %s\"}}",
			kind, st.Tool, st.Name, st.Tool, kind, ConfigPlaceholder)
	}

	path, err := a.writeTarget(st)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(tmpl, ConfigPlaceholder, supervisor.Quote(path)), nil
}

// writeTarget stores the sub-target where its command can read it.
func (a *ExecAdapter) writeTarget(st resolve.SubTarget) (string, error) {
	path := filepath.Join(workspace.New(a.AppDir).BundlerDir(), Slug(st.Name)+".json")
	tf := TargetFile{
		Name:    st.Name,
		Kind:    string(st.Kind),
		Tool:    st.Tool,
		Entry:   st.Entry,
		OutDir:  st.OutDir,
		OutFile: st.OutFile,
		Defines: st.Defines,
		Config:  st.Config,
	}
	if err := fsutil.AtomicWriteJSON(path, tf); err != nil {
		return "", fmt.Errorf("failed to write target file for %q: %w", st.Name, err)
	}
	return path, nil
}

func (a *ExecAdapter) env(ctx context.Context, st resolve.SubTarget) map[string]string {
	env := map[string]string{
		"QUASAR_TARGET":      st.Name,
		"QUASAR_TARGET_KIND": string(st.Kind),
		"QUASAR_TOOL":        st.Tool,
	}
	for _, kv := range st.Commands.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range EnvFrom(ctx) {
		env[k] = v
	}
	return env
}

// lastDone returns the last done status a command printed, if any.
func (a *ExecAdapter) lastDone(r io.Reader) *protocol.Status {
	dec := ndjson.NewDecoder(r, a.Logger)
	var last *protocol.Status
	for {
		msg, err := dec.DecodeEnvelope()
		if err == io.EOF || errors.Is(err, ndjson.ErrStream) {
			return last
		}
		if err != nil {
			continue
		}
		if st, ok := msg.(*protocol.Status); ok && st.Phase == protocol.PhaseDone {
			last = st
		}
	}
}

type execHandle struct {
	proc    *supervisor.Process
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func (h *execHandle) consume(ctx context.Context, a *ExecAdapter, st resolve.SubTarget, onReady func(CompileResult), onError func(error)) {
	defer close(h.done)

	statuses := h.proc.Statuses()
	logs := h.proc.Logs()
	stderr := h.proc.StderrLines()

	for statuses != nil || logs != nil || stderr != nil {
		select {
		case s, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if h.stopped.Load() {
				continue
			}
			a.printStatus(s)
			if s.Phase != protocol.PhaseDone {
				continue
			}
			if s.Failed() {
				onError(&CompileError{Target: st.Name, Messages: s.Errors})
				continue
			}
			onReady(CompileResult{
				Target:   st.Name,
				OutDir:   st.OutDir,
				Files:    s.Files,
				Warnings: s.Warnings,
				Duration: time.Duration(s.DurationMs) * time.Millisecond,
			})

		case l, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			a.printLog(st.Name, l)

		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			if a.Stderr != nil {
				fmt.Fprintln(a.Stderr, line)
			}
		}
	}

	<-h.proc.Done()
	if h.stopped.Load() || ctx.Err() != nil {
		return
	}
	err := h.proc.Err()
	if err == nil {
		err = errors.New("exited")
	}
	onError(fmt.Errorf("watch process for %q ended unexpectedly: %w", st.Name, err))
}

func (h *execHandle) Stop(ctx context.Context) error {
	h.stopped.Store(true)
	var err error
	h.once.Do(func() {
		err = h.proc.Stop(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Slug turns a target name into a file name.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, s)
	if s == "" {
		return "target"
	}
	return s
}

func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// listOutput lists what a tool wrote when it reported nothing itself.
func listOutput(st resolve.SubTarget) []string {
	if st.OutFile != "" {
		if _, err := os.Stat(st.OutFile); err == nil {
			return []string{filepath.Base(st.OutFile)}
		}
		return nil
	}

	var files []string
	_ = filepath.WalkDir(st.OutDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(st.OutDir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	return files
}
