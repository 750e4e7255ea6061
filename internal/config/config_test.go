package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quasarcli/quasar/internal/appctx"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newCtx(t *testing.T, args appctx.Args) appctx.Context {
	t.Helper()
	ctx, err := appctx.New(args)
	require.NoError(t, err)
	return ctx
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "json",
			file:    "quasar.config.json",
			content: `{"build": {"distDir": "dist/app", "beforeBuild": ["echo hi"]}}`,
		},
		{
			name:    "yaml",
			file:    "quasar.config.yaml",
			content: "build:\n  distDir: dist/app\n  beforeBuild:\n    - echo hi\n",
		},
		{
			name:    "hcl",
			file:    "quasar.config.hcl",
			content: "build = {\n  distDir = \"dist/app\"\n  beforeBuild = [\"echo hi\"]\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			f, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, dir, f.Dir)
			assert.Contains(t, f.Digest, "sha256:")

			tree, err := f.Evaluate(newCtx(t, appctx.Args{AppDir: dir}))
			require.NoError(t, err)

			build, ok := tree["build"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "dist/app", build["distDir"])
			assert.Equal(t, []any{"echo hi"}, build["beforeBuild"])
		})
	}
}

func TestHCLReferencesContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quasar.config.hcl")
	writeFile(t, path, `
build = {
  distDir   = "dist/${ctx.mode}"
  sourcemap = ctx.debug
}
devServer = {
  port = ctx.dev ? 8080 : 9000
}
`)

	f, err := Load(path)
	require.NoError(t, err)

	tree, err := f.Evaluate(newCtx(t, appctx.Args{Mode: "ssr", Dev: true, Debug: true, AppDir: dir}))
	require.NoError(t, err)

	build := tree["build"].(map[string]any)
	assert.Equal(t, "dist/ssr", build["distDir"])
	assert.Equal(t, true, build["sourcemap"])
	assert.Equal(t, float64(8080), tree["devServer"].(map[string]any)["port"])
}

func TestHCLEvaluationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quasar.config.hcl")
	writeFile(t, path, "build = { distDir = ctx.missing }\n")

	f, err := Load(path)
	require.NoError(t, err)

	_, err = f.Evaluate(newCtx(t, appctx.Args{AppDir: dir}))
	require.Error(t, err)
}

func TestEvaluateReturnsFreshCopies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quasar.config.json")
	writeFile(t, path, `{"build": {"env": {"A": "1"}}}`)

	f, err := Load(path)
	require.NoError(t, err)
	ctx := newCtx(t, appctx.Args{AppDir: dir})

	first, err := f.Evaluate(ctx)
	require.NoError(t, err)
	first["build"].(map[string]any)["env"].(map[string]any)["A"] = "changed"

	second, err := f.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", second["build"].(map[string]any)["env"].(map[string]any)["A"])
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "quasar.config.yaml"), "build: {}\n")
	nested := filepath.Join(root, "src", "components")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "quasar.config.yaml"), found)

	empty, err := Find(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestValidateErrorsHaveHints(t *testing.T) {
	tests := []struct {
		name string
		tree map[string]any
		msg  string
	}{
		{name: "unknown section", tree: map[string]any{"plugins": map[string]any{}}, msg: "unknown section 'plugins'"},
		{name: "section not object", tree: map[string]any{"build": "dist"}, msg: "must be an object"},
		{name: "extension without id", tree: map[string]any{"extensions": []any{map[string]any{}}}, msg: "has no 'id'"},
		{name: "duplicate extension", tree: map[string]any{"extensions": []any{
			map[string]any{"id": "a"}, map[string]any{"id": "a"},
		}}, msg: "duplicate extension id"},
		{name: "unknown hook", tree: map[string]any{"extensions": []any{
			map[string]any{"id": "a", "hooks": map[string]any{"onDeploy": []any{"x"}}},
		}}, msg: "unknown hook 'onDeploy'"},
		{name: "bad callback", tree: map[string]any{"build": map[string]any{"afterBuild": 3.0}}, msg: "'build.afterBuild'"},
		{name: "bundler without commands", tree: map[string]any{"bundlers": map[string]any{"vite": map[string]any{}}}, msg: "needs a build or watch command"},
		{name: "boot not a list", tree: map[string]any{"boot": map[string]any{"axios": true}}, msg: "'boot' must be a list"},
		{name: "s3 without bucket", tree: map[string]any{"publish": map[string]any{"s3": map[string]any{"endpoint": "x"}}}, msg: "requires endpoint and bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tree)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidateAcceptsAdditiveKeys(t *testing.T) {
	err := Validate(map[string]any{
		"build":       map[string]any{"beforeBuild": "echo one"},
		"extensions+": []any{map[string]any{"id": "late"}},
	})
	assert.NoError(t, err)
}

func TestLoadEnvOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "A=base\nB=base\nC=base\n")
	writeFile(t, filepath.Join(dir, ".env.dev"), "B=dev\n")
	writeFile(t, filepath.Join(dir, ".env.prod"), "B=prod\n")
	writeFile(t, filepath.Join(dir, ".env.spa"), "C=spa\n")

	env, files, err := LoadEnv(dir, newCtx(t, appctx.Args{Dev: true, AppDir: dir}))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "base", "B": "dev", "C": "spa"}, env)
	assert.Len(t, files, 3)

	env, _, err = LoadEnv(dir, newCtx(t, appctx.Args{AppDir: dir}))
	require.NoError(t, err)
	assert.Equal(t, "prod", env["B"])
}

func TestCommands(t *testing.T) {
	cmds, err := Commands("echo a")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo a"}, cmds)

	cmds, err = Commands([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cmds)

	_, err = Commands([]any{1})
	assert.Error(t, err)
}
