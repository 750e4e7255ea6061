package testharness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/quasarcli/quasar/internal/supervisor"
)

// BuildBinaries compiles the quasar and fakebundler binaries into outputDir.
// Returns the absolute paths to the compiled binaries.
func BuildBinaries(ctx context.Context, projectRoot, outputDir string) (string, string, error) {
	if projectRoot == "" {
		return "", "", fmt.Errorf("project root is required")
	}
	if outputDir == "" {
		return "", "", fmt.Errorf("output directory is required")
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	quasarPath := filepath.Join(outputDir, binaryName("quasar"))
	if err := runGoBuild(ctx, projectRoot, quasarPath, "./cmd/quasar"); err != nil {
		return "", "", err
	}

	fakePath, err := BuildFakeBundler(ctx, projectRoot, outputDir)
	if err != nil {
		return "", "", err
	}

	return quasarPath, fakePath, nil
}

// BuildFakeBundler compiles cmd/fakebundler into outputDir and returns its path.
func BuildFakeBundler(ctx context.Context, projectRoot, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(outputDir, binaryName("fakebundler"))
	if err := runGoBuild(ctx, projectRoot, path, "./cmd/fakebundler"); err != nil {
		return "", err
	}
	return path, nil
}

// FakeBundlerTools returns bundler commands that drive the fakebundler binary
// for every tool a mode may use.
func FakeBundlerTools(binary string) map[string]any {
	build := supervisor.Quote(binary) + " -mode build -config {config}"
	watch := supervisor.Quote(binary) + " -mode watch -config {config}"
	tools := map[string]any{}
	for _, name := range []string{"vite", "webpack", "esbuild", "electron-packager", "electron-builder", "cordova", "capacitor"} {
		tools[name] = map[string]any{"build": build, "watch": watch}
	}
	return tools
}

func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func runGoBuild(ctx context.Context, projectRoot, outputPath, pkg string) error {
	cmd := exec.CommandContext(ctx, "go", "build", "-trimpath", "-o", outputPath, pkg)
	cmd.Dir = projectRoot

	env := os.Environ()
	env = setEnv(env, "CGO_ENABLED", "0")
	env = setEnv(env, "GOFLAGS", "-trimpath")
	cmd.Env = env

	var combined []byte
	var err error
	if combined, err = cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go build %s failed: %w\n%s", pkg, err, string(combined))
	}
	return nil
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
