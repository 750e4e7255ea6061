package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type changes struct {
	mu    sync.Mutex
	calls [][]string
}

func (c *changes) record(files []string) {
	c.mu.Lock()
	c.calls = append(c.calls, files)
	c.mu.Unlock()
}

func (c *changes) get() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.calls...)
}

func start(t *testing.T, w *Watcher) *changes {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c := &changes{}
	go func() {
		defer close(done)
		_ = w.Run(ctx, c.record)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBurstIsDebounced(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "quasar.config.json")
	write(t, cfg, "{}")

	w, err := New([]string{cfg}, 100*time.Millisecond, testLogger())
	require.NoError(t, err)
	c := start(t, w)

	for i := 0; i < 3; i++ {
		write(t, cfg, `{"build": {}}`)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(c.get()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	calls := c.get()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{cfg}, calls[0])
}

func TestUnwatchedSiblingsIgnored(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "quasar.config.json")
	write(t, cfg, "{}")

	w, err := New([]string{cfg}, 50*time.Millisecond, testLogger())
	require.NoError(t, err)
	c := start(t, w)

	write(t, filepath.Join(dir, "notes.txt"), "x")
	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, c.get())
}

func TestFileCreatedLaterIsSeen(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env.local")

	w, err := New([]string{env}, 50*time.Millisecond, testLogger())
	require.NoError(t, err)
	c := start(t, w)

	write(t, env, "A=1")
	require.Eventually(t, func() bool { return len(c.get()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAtomicRenameIsSeen(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "index.html")
	write(t, entry, "<html>")

	w, err := New([]string{entry}, 50*time.Millisecond, testLogger())
	require.NoError(t, err)
	c := start(t, w)

	tmp := filepath.Join(dir, ".index.html.tmp")
	write(t, tmp, "<html><body>")
	require.NoError(t, os.Rename(tmp, entry))

	require.Eventually(t, func() bool {
		calls := c.get()
		return len(calls) == 1 && calls[0][0] == entry
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetReplacesFiles(t *testing.T) {
	a := filepath.Join(t.TempDir(), "a.json")
	b := filepath.Join(t.TempDir(), "b.json")
	write(t, a, "{}")
	write(t, b, "{}")

	w, err := New([]string{a}, 50*time.Millisecond, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Set([]string{b}))
	assert.Equal(t, []string{b}, w.Files())

	c := start(t, w)
	write(t, a, `{"x": 1}`)
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, c.get())

	write(t, b, `{"x": 1}`)
	require.Eventually(t, func() bool { return len(c.get()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewFailsForMissingDirectory(t *testing.T) {
	_, err := New([]string{filepath.Join(t.TempDir(), "missing", "quasar.config.json")}, 0, testLogger())
	require.Error(t, err)
}
