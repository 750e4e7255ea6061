// Package workspace knows where generated files live inside an app.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the app-relative folder holding everything the CLI generates
// outside the dist dir.
const DirName = ".quasar"

// Layout resolves generated paths for one app.
type Layout struct {
	AppDir string
}

// New returns the layout rooted at appDir.
func New(appDir string) Layout {
	return Layout{AppDir: appDir}
}

// Root is <app>/.quasar.
func (l Layout) Root() string {
	return filepath.Join(l.AppDir, DirName)
}

// EventsDir holds one NDJSON lifecycle log per run.
func (l Layout) EventsDir() string {
	return filepath.Join(l.Root(), "events")
}

// BundlerDir holds the per-target config files handed to bundler commands.
func (l Layout) BundlerDir() string {
	return filepath.Join(l.Root(), "bundler")
}

// ArtifactsPath lists the output folders previous builds created.
func (l Layout) ArtifactsPath() string {
	return filepath.Join(l.Root(), "artifacts.json")
}

// ReportPath is where the last build report is written.
func (l Layout) ReportPath() string {
	return filepath.Join(l.Root(), "build-report.json")
}

// EntryPath returns the path of a generated entry file.
func (l Layout) EntryPath(name string) string {
	return filepath.Join(l.Root(), name)
}

// RequiredDirectories lists the directories Initialize creates.
func (l Layout) RequiredDirectories() []string {
	return []string{
		l.Root(),
		l.EventsDir(),
		l.BundlerDir(),
	}
}

// Initialize creates the generated folders. It is idempotent.
func Initialize(appDir string) error {
	for _, path := range New(appDir).RequiredDirectories() {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}
