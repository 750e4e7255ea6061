package entryfiles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/workspace"
	"github.com/quasarcli/quasar/pkg/testharness"
)

func TestGenerateSPA(t *testing.T) {
	dir, file := testharness.NewApp(t, `{
		"boot": ["axios", "i18n.js"],
		"css": ["app.scss", "~animate.css/animate.min.css"],
		"build": {"publicPath": "/app/"}
	}`, "index.html")
	res := testharness.Resolve(t, file, appctx.Args{AppDir: dir})

	changed, err := New(testharness.DiscardLogger()).Generate(res)
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	layout := workspace.New(dir)
	client, err := os.ReadFile(layout.EntryPath(ClientFile))
	require.NoError(t, err)
	assert.Contains(t, string(client), `import "src/css/app.scss"`)
	assert.Contains(t, string(client), `import "animate.css/animate.min.css"`)
	assert.Contains(t, string(client), `import boot0 from "boot/axios"`)
	assert.Contains(t, string(client), `import boot1 from "boot/i18n"`)
	assert.Contains(t, string(client), `const boots = [boot0, boot1]`)
	assert.Contains(t, string(client), `const publicPath = "/app/"`)
	assert.NoFileExists(t, layout.EntryPath(ServerFile))

	raw, err := os.ReadFile(layout.EntryPath(AppFile))
	require.NoError(t, err)
	var app AppDescriptor
	require.NoError(t, json.Unmarshal(raw, &app))
	assert.Equal(t, "spa", app.Mode)
	assert.Equal(t, res.Fingerprint, app.Fingerprint)
	require.Len(t, app.Targets, 1)
	assert.Equal(t, "UI", app.Targets[0].Name)
}

func TestGenerateSkipsUnchangedFiles(t *testing.T) {
	dir, file := testharness.NewApp(t, "", "index.html")
	res := testharness.Resolve(t, file, appctx.Args{AppDir: dir})
	g := New(testharness.DiscardLogger())

	_, err := g.Generate(res)
	require.NoError(t, err)

	changed, err := g.Generate(res)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestGenerateSSRServerEntry(t *testing.T) {
	dir, file := testharness.NewApp(t, "", "index.html", "src-ssr/server.js")
	res := testharness.Resolve(t, file, appctx.Args{Mode: "ssr", AppDir: dir})

	_, err := New(testharness.DiscardLogger()).Generate(res)
	require.NoError(t, err)

	server, err := os.ReadFile(workspace.New(dir).EntryPath(ServerFile))
	require.NoError(t, err)
	assert.Contains(t, string(server), "createSSRApp")

	// the server sub-target compiles the generated entry
	st, ok := res.Target("Server")
	require.True(t, ok)
	assert.Equal(t, workspace.New(dir).EntryPath(ServerFile), st.Entry)
}

func TestRegenerateFeatureFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src-pwa"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src-bex"), 0o755))
	custom := filepath.Join(dir, "src-bex", "bex-flag.d.ts")
	require.NoError(t, os.WriteFile(custom, []byte("custom"), 0o644))

	written, err := RegenerateFeatureFlags(dir, testharness.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "src-pwa", "pwa-flag.d.ts")}, written)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "pwa: true;")

	data, err = os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, "custom", string(data), "existing flags are kept")
	assert.NoFileExists(t, filepath.Join(dir, "src-ssr", "ssr-flag.d.ts"))
}
