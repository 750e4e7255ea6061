package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/quasarcli/quasar/internal/artifacts"
	"github.com/quasarcli/quasar/internal/workspace"
)

func TestCommandsExposeContextFlags(t *testing.T) {
	shorthands := map[string]string{
		"mode":     "m",
		"target":   "T",
		"arch":     "A",
		"bundler":  "b",
		"debug":    "d",
		"skip-pkg": "s",
		"publish":  "P",
		"port":     "p",
		"hostname": "H",
	}
	for _, cmd := range []*cobra.Command{rootCmd, devCmd, buildCmd, inspectCmd} {
		for name, short := range shorthands {
			flag := lookupFlag(cmd, name)
			require.NotNil(t, flag, "%s should expose --%s", cmd.Name(), name)
			assert.Equal(t, short, flag.Shorthand, "%s --%s shorthand mismatch", cmd.Name(), name)
		}
	}

	config := lookupFlag(rootCmd, "config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)
	assert.Equal(t, "spa", lookupFlag(buildCmd, "mode").DefValue)
}

func TestRootCommandDelegatesToDev(t *testing.T) {
	originalRunE := devCmd.RunE
	t.Cleanup(func() {
		devCmd.RunE = originalRunE
		resetFlag(rootCmd, "mode")
		rootCmd.SetArgs(nil)
	})

	called := false
	devCmd.RunE = func(cmd *cobra.Command, args []string) error {
		called = true
		mode, err := cmd.Flags().GetString("mode")
		require.NoError(t, err)
		require.Equal(t, "pwa", mode)
		return nil
	}

	rootCmd.SetArgs([]string{"--mode", "pwa"})
	require.NoError(t, rootCmd.Execute())
	require.True(t, called, "root command should delegate to dev command")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: " WARN ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "err", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func writeApp(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o644))
	path := filepath.Join(dir, "quasar.config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		for _, name := range []string{"config", "format", "sub-target", "dev", "mode", "port"} {
			resetFlag(inspectCmd, name)
		}
		resetFlag(rootCmd, "config")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInspectPrintsResolvedConfiguration(t *testing.T) {
	path := writeApp(t, `{"devServer": {"port": 9001}}`)

	out, err := execute(t, "inspect", "--config", path, "--dev")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, path, got["configPath"])
	devServer := got["devServer"].(map[string]any)
	assert.Equal(t, float64(9001), devServer["port"])
	require.Len(t, got["subTargets"], 1)
}

func TestInspectSubTargetAsYAML(t *testing.T) {
	path := writeApp(t, `{}`)

	out, err := execute(t, "inspect", "-c", path, "--sub-target", "UI", "--format", "yaml")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "UI", got["name"])
	assert.Equal(t, "vite", got["tool"])
}

func TestInspectUnknownSubTarget(t *testing.T) {
	path := writeApp(t, `{}`)

	_, err := execute(t, "inspect", "-c", path, "--sub-target", "Electron Main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Hint: available sub-targets: UI")
}

func TestInspectRejectsUnknownFormat(t *testing.T) {
	path := writeApp(t, `{}`)

	_, err := execute(t, "inspect", "-c", path, "--format", "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestInspectReportsConfigError(t *testing.T) {
	path := writeApp(t, `{}`)

	_, err := execute(t, "inspect", "-c", path, "--port", "70000")
	require.Error(t, err)
}

func TestBuildRefusesDistDirEnclosingApp(t *testing.T) {
	path := writeApp(t, `{"build": {"distDir": "."}}`)
	dir := filepath.Dir(path)
	source := filepath.Join(dir, "src", "App.vue")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
	require.NoError(t, os.WriteFile(source, []byte("<template/>"), 0o644))

	_, err := execute(t, "build", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains the app folder")

	assert.FileExists(t, source)
	assert.FileExists(t, path)
	assert.NoDirExists(t, filepath.Join(dir, ".quasar"))
}

func TestCleanRemovesRecordedOutput(t *testing.T) {
	path := writeApp(t, `{}`)
	dir := filepath.Dir(path)
	dist := filepath.Join(dir, "dist", "spa")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, artifacts.Add(dir, dist))

	out, err := execute(t, "clean", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+dist)
	assert.NoDirExists(t, dist)
	assert.NoDirExists(t, workspace.New(dir).Root())
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "index.html"))
}

func resetFlag(cmd *cobra.Command, name string) {
	if flag := lookupFlag(cmd, name); flag != nil {
		_ = flag.Value.Set(flag.DefValue)
		flag.Changed = false
	}
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag
	}
	return cmd.InheritedFlags().Lookup(name)
}
