package testharness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/runstate"
	"github.com/quasarcli/quasar/internal/workspace"
)

// Scenario defines a deterministic smoke-test build driven by fakebundler.
type Scenario struct {
	Name string
	Mode string
	// Config is the config file content; the bundlers section is added.
	Config map[string]any
	// Files are app-relative paths and their contents.
	Files map[string]string
	Args  []string
}

var (
	// ScenarioSPA exercises the plain single-page build.
	ScenarioSPA = Scenario{
		Name:  "spa",
		Mode:  "spa",
		Files: map[string]string{"index.html": "<html></html>"},
	}
	// ScenarioSSR builds the client then the webserver.
	ScenarioSSR = Scenario{
		Name:  "ssr",
		Mode:  "ssr",
		Files: map[string]string{"index.html": "<html></html>", "src-ssr/server.js": "// server"},
	}
	// ScenarioBEX builds and packages a browser extension.
	ScenarioBEX = Scenario{
		Name:   "bex",
		Mode:   "bex",
		Config: map[string]any{"bex": map[string]any{"contentScripts": []any{"my-content-script"}}},
		Files: map[string]string{
			"index.html":                   "<html></html>",
			"package.json":                 `{"name": "smoke", "version": "0.3.0"}`,
			"src-bex/manifest.json":        `{"manifest_version": 3, "name": "smoke"}`,
			"src-bex/background.js":        "// background",
			"src-bex/my-content-script.js": "// content",
			"src-bex/dom.js":               "// dom",
			"src-bex/assets/icon-128x.png": "png",
		},
	}
	// ScenarioCompileError fails in the compile phase.
	ScenarioCompileError = Scenario{
		Name:  "compile-error",
		Mode:  "spa",
		Files: map[string]string{"index.html": "<html>" + SyntaxErrorMarker},
	}
)

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	Scenario          Scenario
	QuasarBinary      string
	FakeBundlerBinary string
	AppDir            string
	Env               map[string]string
}

// SmokeResult captures the outcome of a smoke scenario.
type SmokeResult struct {
	Scenario   Scenario
	AppDir     string
	Stdout     string
	Stderr     string
	RunErr     error
	Report     *runstate.RunState
	ConfigPath string
}

// RunSmoke runs `quasar build` for a scenario using the provided binaries.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.QuasarBinary == "" {
		return nil, fmt.Errorf("quasar binary path is required")
	}
	if opts.FakeBundlerBinary == "" {
		return nil, fmt.Errorf("fakebundler binary path is required")
	}

	appDir := opts.AppDir
	var err error
	if appDir == "" {
		appDir, err = os.MkdirTemp("", "quasar-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create app dir: %w", err)
		}
	} else if err := os.MkdirAll(appDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create app dir: %w", err)
	}

	for rel, content := range opts.Scenario.Files {
		if err := fsutil.AtomicWrite(filepath.Join(appDir, rel), []byte(content)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}

	cfg := map[string]any{}
	for k, v := range opts.Scenario.Config {
		cfg[k] = v
	}
	cfg["bundlers"] = FakeBundlerTools(opts.FakeBundlerBinary)

	configPath := filepath.Join(appDir, "quasar.config.json")
	if err := writeConfig(configPath, cfg); err != nil {
		return nil, err
	}

	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}

	args := []string{"build", "--config", configPath, "--mode", opts.Scenario.Mode}
	args = append(args, opts.Scenario.Args...)
	cmd := exec.CommandContext(ctx, opts.QuasarBinary, args...)
	cmd.Dir = appDir
	cmd.Stdout = stdOut
	cmd.Stderr = stdErr
	cmd.Env = mergeEnv(os.Environ(), opts.Env)

	runErr := cmd.Run()

	result := &SmokeResult{
		Scenario:   opts.Scenario,
		AppDir:     appDir,
		Stdout:     stdOut.String(),
		Stderr:     stdErr.String(),
		RunErr:     runErr,
		ConfigPath: configPath,
	}

	if st, err := runstate.LoadRunState(workspace.New(appDir).ReportPath()); err == nil {
		result.Report = st
	}

	return result, nil
}

func writeConfig(path string, cfg map[string]any) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return fsutil.AtomicWrite(path, append(data, '\n'))
}

// DetectRepoRoot locates the repository root by searching for go.mod.
func DetectRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found (starting from %s)", dir)
		}
		dir = parent
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	result := append([]string{}, base...)
	for k, v := range overrides {
		result = setEnv(result, k, v)
	}
	return result
}
