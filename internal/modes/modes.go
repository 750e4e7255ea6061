// Package modes holds the closed set of app modes and, for each one, the static
// description of how it is installed and which sub-targets it compiles.
//
// Lookups happen once per invocation through Lookup; nothing here loads code by
// name at runtime.
package modes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Mode is a build target family.
type Mode string

const (
	SPA       Mode = "spa"
	SSR       Mode = "ssr"
	PWA       Mode = "pwa"
	Cordova   Mode = "cordova"
	Capacitor Mode = "capacitor"
	Electron  Mode = "electron"
	BEX       Mode = "bex"
)

var (
	// ErrUnknownMode is returned for a mode name outside the closed set.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrNotInstalled is returned when a mode's source folder is missing.
	ErrNotInstalled = errors.New("mode not installed")
)

// Kind identifies what a sub-target compiles.
type Kind string

const (
	KindUI            Kind = "ui"
	KindClient        Kind = "client"
	KindServer        Kind = "server"
	KindWebserver     Kind = "webserver"
	KindServiceWorker Kind = "service-worker"
	KindMain          Kind = "electron-main"
	KindPreload       Kind = "electron-preload"
	KindBackground    Kind = "background"
	KindContent       Kind = "content"
	KindDom           Kind = "dom"
	KindPackager      Kind = "packager"
)

// TargetSpec is one node of a mode's fixed sub-target graph.
type TargetSpec struct {
	Name string
	Kind Kind
	// Stage orders compilation: every target of a lower stage finishes before a
	// higher stage starts; targets in the same stage may compile concurrently.
	Stage int
	// Source is the user-provided entry relative to the app dir. Empty for
	// targets compiled from generated entries.
	Source string
	// OutDir is the output path relative to the dist dir ("" = dist dir itself).
	OutDir string
	// OutFile is set instead of OutDir for single-file script targets.
	OutFile string
}

// Options carries the bits of configuration the target graph depends on.
type Options struct {
	Dev            bool
	SkipPkg        bool
	ContentScripts []string
	WorkboxMode    string
}

// Descriptor describes a mode statically.
type Descriptor struct {
	Mode Mode
	// Dir is the source folder that marks the mode as installed.
	Dir string
	// Targets lists the sub-target graph for the given options, in declaration order.
	Targets func(opts Options) []TargetSpec
}

var registry = map[Mode]Descriptor{
	SPA: {
		Mode: SPA,
		Targets: func(opts Options) []TargetSpec {
			return []TargetSpec{uiTarget("")}
		},
	},
	PWA: {
		Mode: PWA,
		Dir:  "src-pwa",
		Targets: func(opts Options) []TargetSpec {
			specs := []TargetSpec{uiTarget("")}
			if opts.WorkboxMode == "InjectManifest" {
				specs = append(specs, TargetSpec{
					Name:    "Service Worker",
					Kind:    KindServiceWorker,
					Stage:   1,
					Source:  "src-pwa/custom-service-worker.js",
					OutFile: "service-worker.js",
				})
			}
			return specs
		},
	},
	SSR: {
		Mode: SSR,
		Dir:  "src-ssr",
		Targets: func(opts Options) []TargetSpec {
			return []TargetSpec{
				{Name: "Client", Kind: KindClient, Stage: 0, Source: "index.html", OutDir: "client"},
				{Name: "Server", Kind: KindServer, Stage: 0, OutDir: "server"},
				{Name: "Webserver", Kind: KindWebserver, Stage: 1, Source: "src-ssr/server.js", OutFile: "index.js"},
			}
		},
	},
	Cordova: {
		Mode:    Cordova,
		Dir:     "src-cordova",
		Targets: nativeTargets("src-cordova/www"),
	},
	Capacitor: {
		Mode:    Capacitor,
		Dir:     "src-capacitor",
		Targets: nativeTargets("src-capacitor/www"),
	},
	Electron: {
		Mode: Electron,
		Dir:  "src-electron",
		Targets: func(opts Options) []TargetSpec {
			specs := []TargetSpec{
				uiTarget("UnPackaged"),
				{Name: "Main", Kind: KindMain, Stage: 0, Source: "src-electron/electron-main.js", OutFile: "UnPackaged/electron-main.js"},
				{Name: "Preload", Kind: KindPreload, Stage: 0, Source: "src-electron/electron-preload.js", OutFile: "UnPackaged/electron-preload.js"},
			}
			if !opts.Dev && !opts.SkipPkg {
				specs = append(specs, TargetSpec{Name: "Packager", Kind: KindPackager, Stage: 1, OutDir: "Packaged"})
			}
			return specs
		},
	},
	BEX: {
		Mode: BEX,
		Dir:  "src-bex",
		Targets: func(opts Options) []TargetSpec {
			specs := []TargetSpec{
				uiTarget(""),
				{Name: "Background Script", Kind: KindBackground, Stage: 1, Source: "src-bex/background.js", OutFile: "background.js"},
			}
			for _, name := range opts.ContentScripts {
				specs = append(specs, TargetSpec{
					Name:    "Content Script " + name,
					Kind:    KindContent,
					Stage:   2,
					Source:  "src-bex/" + name + ".js",
					OutFile: name + ".js",
				})
			}
			specs = append(specs, TargetSpec{Name: "Dom Script", Kind: KindDom, Stage: 3, Source: "src-bex/dom.js", OutFile: "dom.js"})
			return specs
		},
	},
}

func uiTarget(outDir string) TargetSpec {
	return TargetSpec{Name: "UI", Kind: KindUI, Stage: 0, Source: "index.html", OutDir: outDir}
}

// nativeTargets builds the graph shared by cordova and capacitor: the UI is
// written into the wrapper's www folder, then the native project is packaged.
func nativeTargets(www string) func(Options) []TargetSpec {
	return func(opts Options) []TargetSpec {
		ui := uiTarget("")
		ui.OutDir = "@app/" + www
		specs := []TargetSpec{ui}
		if !opts.Dev && !opts.SkipPkg {
			specs = append(specs, TargetSpec{Name: "Native", Kind: KindPackager, Stage: 1})
		}
		return specs
	}
}

// Parse converts a user-supplied mode name. The ios and android aliases map to
// cordova and return the implied target.
func Parse(name string) (Mode, string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "":
		return SPA, "", nil
	case "ios", "android":
		return Cordova, n, nil
	}
	m := Mode(n)
	if _, ok := registry[m]; !ok {
		return "", "", fmt.Errorf("%w %q (expected one of %s)", ErrUnknownMode, name, strings.Join(Names(), "|"))
	}
	return m, "", nil
}

// Lookup returns the descriptor for m.
func Lookup(m Mode) (Descriptor, error) {
	d, ok := registry[m]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w %q", ErrUnknownMode, m)
	}
	return d, nil
}

// Names lists every mode, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for m := range registry {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return names
}

// All returns every mode, sorted by name.
func All() []Mode {
	var out []Mode
	for _, n := range Names() {
		out = append(out, Mode(n))
	}
	return out
}

// IsInstalled reports whether the mode's source folder exists under appDir.
func (d Descriptor) IsInstalled(appDir string) bool {
	if d.Dir == "" {
		return true
	}
	info, err := os.Stat(filepath.Join(appDir, d.Dir))
	return err == nil && info.IsDir()
}

// Install verifies the mode is available in appDir. Scaffolding a mode is done by
// the mode's own tooling; this only reports what is missing.
func (d Descriptor) Install(appDir string) error {
	if d.IsInstalled(appDir) {
		return nil
	}
	return fmt.Errorf("%w: %s (missing %s)\n\nHint: add the mode first:\n  quasar mode add %s", ErrNotInstalled, d.Mode, d.Dir, d.Mode)
}

// SupportsBrowserOpen reports whether the dev server output is meant to be opened
// in a browser tab.
func (m Mode) SupportsBrowserOpen() bool {
	return m == SPA || m == PWA
}
