// Package appctx defines the BuildContext created once per CLI invocation.
package appctx

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/quasarcli/quasar/internal/modes"
)

// Args are the raw, parsed CLI arguments a Context is built from.
type Args struct {
	Mode    string
	Target  string
	Arch    string
	Bundler string
	Publish string
	Host    string
	Port    int
	Dev     bool
	Debug   bool
	SkipPkg bool
	AppDir  string
}

// Context is the immutable record of one invocation. It is passed by value and
// exposes no setters.
type Context struct {
	mode    modes.Mode
	target  string
	arch    string
	bundler string
	publish string
	host    string
	port    int
	dev     bool
	debug   bool
	skipPkg bool
	appDir  string
}

var cordovaTargets = map[string]bool{"android": true, "ios": true}

var electronBundlers = map[string]bool{"packager": true, "builder": true}

// New validates args and returns the Context for this invocation.
func New(args Args) (Context, error) {
	mode, aliasTarget, err := modes.Parse(args.Mode)
	if err != nil {
		return Context{}, err
	}

	target := strings.ToLower(strings.TrimSpace(args.Target))
	if aliasTarget != "" {
		if target != "" && target != aliasTarget {
			return Context{}, fmt.Errorf("mode %q implies target %q but --target is %q", args.Mode, aliasTarget, target)
		}
		target = aliasTarget
	}

	switch mode {
	case modes.Cordova, modes.Capacitor:
		if args.Dev && target == "" {
			return Context{}, fmt.Errorf("%s mode requires --target [android|ios] in dev", mode)
		}
		if target != "" && !cordovaTargets[target] {
			return Context{}, fmt.Errorf("unknown %s target %q (expected android|ios)", mode, target)
		}
	}

	bundler := strings.ToLower(strings.TrimSpace(args.Bundler))
	if bundler != "" {
		if mode != modes.Electron {
			return Context{}, fmt.Errorf("--bundler only applies to electron mode")
		}
		if !electronBundlers[bundler] {
			return Context{}, fmt.Errorf("unknown electron bundler %q (expected packager|builder)", bundler)
		}
	}

	if args.Port < 0 || args.Port > 65535 {
		return Context{}, fmt.Errorf("invalid port %d", args.Port)
	}

	appDir := args.AppDir
	if appDir == "" {
		appDir = "."
	}
	abs, err := filepath.Abs(appDir)
	if err != nil {
		return Context{}, fmt.Errorf("failed to resolve app dir: %w", err)
	}

	return Context{
		mode:    mode,
		target:  target,
		arch:    strings.TrimSpace(args.Arch),
		bundler: bundler,
		publish: strings.TrimSpace(args.Publish),
		host:    strings.TrimSpace(args.Host),
		port:    args.Port,
		dev:     args.Dev,
		debug:   args.Debug,
		skipPkg: args.SkipPkg,
		appDir:  abs,
	}, nil
}

func (c Context) Mode() modes.Mode { return c.mode }
func (c Context) Target() string   { return c.target }
func (c Context) Arch() string     { return c.arch }
func (c Context) Bundler() string  { return c.bundler }
func (c Context) Publish() string  { return c.publish }
func (c Context) Host() string     { return c.host }
func (c Context) Port() int        { return c.port }
func (c Context) Dev() bool        { return c.dev }
func (c Context) Prod() bool       { return !c.dev }
func (c Context) Debug() bool      { return c.debug }
func (c Context) SkipPkg() bool    { return c.skipPkg }
func (c Context) AppDir() string   { return c.appDir }

// Vars returns the context as the plain values config files may reference.
func (c Context) Vars() map[string]any {
	return map[string]any{
		"mode":     string(c.mode),
		"modeName": string(c.mode),
		"target":   c.target,
		"arch":     c.arch,
		"bundler":  c.bundler,
		"publish":  c.publish,
		"dev":      c.dev,
		"prod":     !c.dev,
		"debug":    c.debug,
	}
}

func (c Context) String() string {
	phase := "build"
	if c.dev {
		phase = "dev"
	}
	s := fmt.Sprintf("%s %s", phase, c.mode)
	if c.target != "" {
		s += "/" + c.target
	}
	return s
}
