package bundler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/modes"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/supervisor"
	"github.com/quasarcli/quasar/internal/transcript"
	"github.com/quasarcli/quasar/internal/workspace"
	"github.com/quasarcli/quasar/pkg/testharness"
)

var fakeBundler string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "quasar-bundler-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fakeBundler, err = testharness.BuildFakeBundler(context.Background(), "../..", dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func fakeTool() config.Tool {
	bin := supervisor.Quote(fakeBundler)
	return config.Tool{
		Build: bin + " -mode build -config {config}",
		Watch: bin + " -mode watch -poll 10ms -config {config}",
	}
}

func newTarget(t *testing.T, appDir, content string) resolve.SubTarget {
	t.Helper()
	entry := filepath.Join(appDir, "index.html")
	require.NoError(t, os.WriteFile(entry, []byte(content), 0o644))
	return resolve.SubTarget{
		Name:     "UI",
		Kind:     modes.KindUI,
		Tool:     "vite",
		Entry:    entry,
		OutDir:   filepath.Join(appDir, "dist", "spa"),
		Defines:  map[string]string{"process.env.CLIENT": "true"},
		Config:   map[string]any{"build": map[string]any{"minify": true}},
		Commands: fakeTool(),
	}
}

func TestExecCompile(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, "<html>app</html>")

	a := bundler.NewExecAdapter(appDir, testLogger())
	res, err := a.Compile(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, "UI", res.Target)
	assert.Equal(t, []string{"index.html"}, res.Files)
	data, err := os.ReadFile(filepath.Join(st.OutDir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>app</html>", string(data))

	// the tool received the full target file
	raw, err := os.ReadFile(filepath.Join(workspace.New(appDir).BundlerDir(), "ui.json"))
	require.NoError(t, err)
	var tf bundler.TargetFile
	require.NoError(t, json.Unmarshal(raw, &tf))
	assert.Equal(t, "vite", tf.Tool)
	assert.Equal(t, "true", tf.Defines["process.env.CLIENT"])
	assert.Equal(t, map[string]any{"minify": true}, tf.Config["build"])
}

func TestExecCompileReportsErrors(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, testharness.SyntaxErrorMarker)

	_, err := bundler.NewExecAdapter(appDir, testLogger()).Compile(context.Background(), st)
	var ce *bundler.CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "UI", ce.Target)
	require.Len(t, ce.Messages, 1)
	assert.Contains(t, ce.Messages[0], "Unexpected token")
}

func TestExecCompileNonZeroExitWithoutStatus(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, "ok")
	st.Commands = config.Tool{Build: "echo broken >&2; exit 2"}

	_, err := bundler.NewExecAdapter(appDir, testLogger()).Compile(context.Background(), st)
	var ce *bundler.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"broken"}, ce.Messages)
	assert.Error(t, errors.Unwrap(ce))
}

func TestExecCompileWithoutStatusListsOutput(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, "ok")
	st.Commands = config.Tool{Build: "mkdir -p dist/spa/assets && touch dist/spa/index.html dist/spa/assets/app.js"}

	res, err := bundler.NewExecAdapter(appDir, testLogger()).Compile(context.Background(), st)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index.html", "assets/app.js"}, res.Files)
}

func TestExecMissingCommand(t *testing.T) {
	appDir := t.TempDir()
	st := newTarget(t, appDir, "ok")
	st.Commands = config.Tool{}

	a := bundler.NewExecAdapter(appDir, testLogger())
	_, err := a.Compile(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Hint:")

	_, err = a.Watch(context.Background(), st, func(bundler.CompileResult) {}, func(error) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no watch command")
}

type recorder struct {
	mu     sync.Mutex
	ready  []bundler.CompileResult
	errors []error
}

func (r *recorder) onReady(res bundler.CompileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, res)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) firstError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[0]
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready), len(r.errors)
}

func TestExecWatchRecoversFromCompileError(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, testharness.SyntaxErrorMarker)

	rec := &recorder{}
	h, err := bundler.NewExecAdapter(appDir, testLogger()).Watch(context.Background(), st, rec.onReady, rec.onError)
	require.NoError(t, err)
	defer h.Stop(context.Background())

	require.Eventually(t, func() bool { _, e := rec.counts(); return e == 1 }, 10*time.Second, 10*time.Millisecond)
	var ce *bundler.CompileError
	assert.True(t, errors.As(rec.firstError(), &ce))

	require.NoError(t, os.WriteFile(st.Entry, []byte("<html>fixed</html>"), 0o644))
	require.Eventually(t, func() bool { r, _ := rec.counts(); return r == 1 }, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Stop(context.Background()))
	r, e := rec.counts()
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, e, "stopping must not report an error")
}

func TestExecWatchReportsUnexpectedExit(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, "ok")
	st.Commands = config.Tool{Watch: "exit 4"}

	rec := &recorder{}
	h, err := bundler.NewExecAdapter(appDir, testLogger()).Watch(context.Background(), st, rec.onReady, rec.onError)
	require.NoError(t, err)

	require.Eventually(t, func() bool { _, e := rec.counts(); return e == 1 }, 10*time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.firstError().Error(), "ended unexpectedly")
	assert.NoError(t, h.Stop(context.Background()))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func TestExecWatchPrintsTranscript(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, "<html>app</html>")
	st.Commands.Watch = `printf '%s\n' '{"kind":"log","level":"warn","message":"slow plugin"}'; ` + st.Commands.Watch

	var out syncBuffer
	a := bundler.NewExecAdapter(appDir, testLogger())
	a.SetTranscript(&out, transcript.NewFormatter())

	rec := &recorder{}
	h, err := a.Watch(context.Background(), st, rec.onReady, rec.onError)
	require.NoError(t, err)
	defer h.Stop(context.Background())

	require.Eventually(t, func() bool { r, _ := rec.counts(); return r == 1 }, 10*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[UI] compiled successfully")
	}, 10*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "[UI] [LOG:WARN] slow plugin")
}

func TestExecWatchGetsContextEnv(t *testing.T) {
	skipOnWindows(t)
	appDir := t.TempDir()
	st := newTarget(t, appDir, "ok")
	out := filepath.Join(appDir, "env.txt")
	st.Commands = config.Tool{
		Build: "printf '%s %s %s' \"$QUASAR_HUB_URL\" \"$QUASAR_TARGET\" \"$EXTRA\" > " + supervisor.Quote(out),
		Env:   []string{"EXTRA=yes"},
	}

	ctx := bundler.WithEnv(context.Background(), map[string]string{"QUASAR_HUB_URL": "http://127.0.0.1:1"})
	_, err := bundler.NewExecAdapter(appDir, testLogger()).Compile(ctx, st)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1 UI yes", string(data))
}

func TestRegistry(t *testing.T) {
	fallback := testharness.NewFakeAdapter()
	special := testharness.NewFakeAdapter()

	r := bundler.NewRegistry(fallback)
	r.Register("electron-builder", special)

	a, err := r.For("electron-builder")
	require.NoError(t, err)
	assert.Same(t, special, a)

	a, err = r.For("vite")
	require.NoError(t, err)
	assert.Same(t, fallback, a)

	_, err = bundler.NewRegistry(nil).For("vite")
	assert.Error(t, err)
}

func TestWithEnvLayers(t *testing.T) {
	ctx := bundler.WithEnv(context.Background(), map[string]string{"A": "1", "B": "1"})
	ctx = bundler.WithEnv(ctx, map[string]string{"B": "2"})
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, bundler.EnvFrom(ctx))
	assert.Nil(t, bundler.EnvFrom(context.Background()))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "content-script-my-content-script", bundler.Slug("Content Script my-content-script"))
	assert.Equal(t, "ui", bundler.Slug("UI"))
	assert.Equal(t, "target", bundler.Slug(""))
}

func TestCompileErrorMessage(t *testing.T) {
	err := &bundler.CompileError{Target: "Server", Messages: []string{"a", "b"}}
	assert.Equal(t, `compile failed for "Server": a; b`, err.Error())
}
