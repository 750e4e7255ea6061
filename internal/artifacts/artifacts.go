// Package artifacts manages build output folders: cleaning them before a
// build, remembering which ones exist, listing what they contain, and zipping
// them for distribution. Recorded folders are removed again by Purge.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/workspace"
)

// Clean empties dir so no output of an earlier build survives into the next
// one. The directory itself is kept.
func Clean(dir string) error {
	if err := fsutil.CleanDir(dir); err != nil {
		return fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	return nil
}

// Add records dir as a build output of the app.
func Add(appDir, dir string) error {
	dirs, err := List(appDir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if d == dir {
			return nil
		}
	}
	dirs = append(dirs, dir)
	sort.Strings(dirs)
	return fsutil.AtomicWriteJSON(workspace.New(appDir).ArtifactsPath(), dirs)
}

// List returns the recorded output folders.
func List(appDir string) ([]string, error) {
	data, err := os.ReadFile(workspace.New(appDir).ArtifactsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts list: %w", err)
	}

	var dirs []string
	if err := json.Unmarshal(data, &dirs); err != nil {
		return nil, fmt.Errorf("failed to parse artifacts list: %w", err)
	}
	return dirs, nil
}

// Purge removes every recorded output folder, then the record itself. A
// recorded folder that contains appDir is never removed.
func Purge(appDir string) ([]string, error) {
	dirs, err := List(appDir)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if fsutil.Contains(dir, appDir) {
			return removed, fmt.Errorf("refusing to remove %s: it contains the app folder", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		removed = append(removed, dir)
	}

	if err := os.Remove(workspace.New(appDir).ArtifactsPath()); err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("failed to remove artifacts list: %w", err)
	}
	return removed, nil
}
