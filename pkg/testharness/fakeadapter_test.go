package testharness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/modes"
	"github.com/quasarcli/quasar/internal/resolve"
)

func uiTarget(t *testing.T, content string) resolve.SubTarget {
	t.Helper()
	dir := t.TempDir()
	entry := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(entry, []byte(content), 0o644))
	return resolve.SubTarget{Name: "UI", Kind: modes.KindUI, Entry: entry, OutDir: filepath.Join(dir, "dist")}
}

func TestFakeAdapterCompile(t *testing.T) {
	f := NewFakeAdapter()
	st := uiTarget(t, "<html></html>")

	res, err := f.Compile(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, res.Files)
	assert.FileExists(t, filepath.Join(st.OutDir, "index.html"))
	assert.Equal(t, []string{"UI"}, f.Compiled())
}

func TestFakeAdapterCompileErrors(t *testing.T) {
	f := NewFakeAdapter()

	_, err := f.Compile(context.Background(), uiTarget(t, SyntaxErrorMarker))
	var ce *bundler.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "UI", ce.Target)

	f.FailTargets = map[string]bool{"UI": true}
	_, err = f.Compile(context.Background(), uiTarget(t, "ok"))
	require.True(t, errors.As(err, &ce))
	assert.Empty(t, f.Compiled())
	assert.Equal(t, []string{"UI", "UI"}, f.Attempted())
}

func TestFakeAdapterWatch(t *testing.T) {
	f := NewFakeAdapter()
	st := uiTarget(t, SyntaxErrorMarker)

	var mu sync.Mutex
	var ready, failed int
	h, err := f.Watch(context.Background(), st,
		func(bundler.CompileResult) { mu.Lock(); ready++; mu.Unlock() },
		func(error) { mu.Lock(); failed++; mu.Unlock() })
	require.NoError(t, err)
	assert.Equal(t, 1, f.Live())

	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return failed == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(st.Entry, []byte("fixed"), 0o644))
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return ready == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, 0, f.Live())
	assert.Equal(t, 1, f.MaxLive())
}

func TestFakeAdapterStopAbortsCompile(t *testing.T) {
	f := NewFakeAdapter()
	f.CompileDelay = time.Minute

	h, err := f.Watch(context.Background(), uiTarget(t, "ok"), func(bundler.CompileResult) {}, func(error) {})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Stop(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, f.Aborted())
}
