package entryfiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/modes"
)

// flagModes are the modes that ship a feature flag declaration.
var flagModes = []modes.Mode{modes.PWA, modes.Cordova, modes.Capacitor, modes.SSR, modes.BEX}

const flagTemplate = `/* eslint-disable */
/**
 * THIS FILE IS GENERATED AUTOMATICALLY.
 * 1. DO NOT edit this file directly as it won't do anything.
 * 2. EDIT the original quasar.config file INSTEAD.
 * 3. DO NOT git commit this file. It should be ignored.
 **/
import "quasar/dist/types/feature-flag";

declare module "quasar/dist/types/feature-flag" {
  interface QuasarFeatureFlags {
    %s: true;
  }
}
`

// FlagPath returns where the feature flag of m lives.
func FlagPath(appDir string, d modes.Descriptor) string {
	return filepath.Join(appDir, d.Dir, string(d.Mode)+"-flag.d.ts")
}

// RegenerateFeatureFlags writes the flag declaration of every installed mode
// whose flag file is missing. Existing files are left alone.
func RegenerateFeatureFlags(appDir string, logger *slog.Logger) ([]string, error) {
	var written []string
	for _, m := range flagModes {
		d, err := modes.Lookup(m)
		if err != nil {
			return written, err
		}
		if !d.IsInstalled(appDir) {
			continue
		}

		path := FlagPath(appDir, d)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return written, fmt.Errorf("failed to check %s: %w", path, err)
		}

		if err := fsutil.AtomicWrite(path, []byte(fmt.Sprintf(flagTemplate, m))); err != nil {
			return written, fmt.Errorf("failed to write %s feature flag: %w", m, err)
		}
		logger.Info("feature flag was missing and has been regenerated", "mode", m)
		written = append(written, path)
	}
	return written, nil
}
