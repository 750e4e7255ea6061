package build

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quasarcli/quasar/internal/artifacts"
	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/resolve"
)

type packageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func readPackageJSON(appDir string) packageJSON {
	var pkg packageJSON
	data, err := os.ReadFile(filepath.Join(appDir, "package.json"))
	if err != nil {
		return pkg
	}
	_ = json.Unmarshal(data, &pkg)
	return pkg
}

var pkgNameReplacer = strings.NewReplacer("@", "", "/", "-", " ", "-")

// writeBEXManifest writes the extension manifest into the dist dir. The
// version field follows package.json.
func writeBEXManifest(res *resolve.Resolved) error {
	appDir := res.Context.AppDir()
	src := filepath.Join(appDir, "src-bex", "manifest.json")

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read extension manifest: %w\n\nHint: browser extensions need src-bex/manifest.json", err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("invalid %s: %w", src, err)
	}

	if pkg := readPackageJSON(appDir); pkg.Version != "" {
		manifest["version"] = pkg.Version
	}
	if err := fsutil.AtomicWriteJSON(filepath.Join(res.DistDir, "manifest.json"), manifest); err != nil {
		return fmt.Errorf("failed to write extension manifest: %w", err)
	}
	return nil
}

// copyBEXAssets copies src-bex/assets into the dist dir when present.
func copyBEXAssets(res *resolve.Resolved) error {
	assets := filepath.Join(res.Context.AppDir(), "src-bex", "assets")
	info, err := os.Stat(assets)
	if err != nil || !info.IsDir() {
		return nil
	}
	if err := fsutil.CopyDir(assets, filepath.Join(res.DistDir, "assets")); err != nil {
		return fmt.Errorf("failed to copy extension assets: %w", err)
	}
	return nil
}

// zipBEX zips the dist dir into Packaged.<package name>.zip.
func zipBEX(res *resolve.Resolved, logger *slog.Logger) (string, error) {
	appDir := res.Context.AppDir()
	name := readPackageJSON(appDir).Name
	if name == "" {
		name = filepath.Base(appDir)
	}
	zipPath := filepath.Join(res.DistDir, "Packaged."+pkgNameReplacer.Replace(name)+".zip")
	logger.Debug("zipping extension", "zip", zipPath)
	if err := artifacts.Zip(res.DistDir, zipPath); err != nil {
		return "", err
	}
	return zipPath, nil
}
