package testharness

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/resolve"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// NewApp creates an app directory holding files (app-relative paths, each
// with placeholder content) and, when cfg is not empty, a
// quasar.config.json with that content.
func NewApp(t testing.TB, cfg string, files ...string) (string, *config.File) {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		WriteFile(t, filepath.Join(dir, f), "// "+f+"\n")
	}
	if cfg == "" {
		return dir, config.Empty(dir)
	}

	path := filepath.Join(dir, "quasar.config.json")
	WriteFile(t, path, cfg)
	file, err := config.Load(path)
	require.NoError(t, err)
	return dir, file
}

// Resolve resolves file for args without caching.
func Resolve(t testing.TB, file *config.File, args appctx.Args) *resolve.Resolved {
	t.Helper()
	ctx, err := appctx.New(args)
	require.NoError(t, err)

	r, err := resolve.New(DiscardLogger(), 0)
	require.NoError(t, err)
	res, err := r.Resolve(file, ctx)
	require.NoError(t, err)
	return res
}
