// Package resolve turns a loaded configuration file and an invocation context
// into the per-sub-target configuration consumed by builds and dev sessions.
//
// Resolution is a pure function of (file, context, filesystem snapshot): the
// same inputs always produce structurally equal results.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/canonical"
	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/modes"
)

// DefaultCacheSize bounds the number of cached resolutions.
const DefaultCacheSize = 16

var knownBundlers = map[string]bool{"vite": true, "webpack": true}

var workboxModes = map[string]bool{"GenerateSW": true, "InjectManifest": true}

// Resolver resolves configurations and caches the results by input fingerprint.
type Resolver struct {
	logger *slog.Logger
	cache  *lru.Cache[string, *Resolved]
}

// New creates a Resolver. A cacheSize of zero disables caching.
func New(logger *slog.Logger, cacheSize int) (*Resolver, error) {
	r := &Resolver{logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, *Resolved](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Resolve merges framework defaults, mode defaults, the user file, .env values
// and CLI overrides, validates the result and materializes one configuration per
// sub-target of the active mode. Failures are returned as *ConfigError.
func (r *Resolver) Resolve(file *config.File, ctx appctx.Context) (*Resolved, error) {
	if file == nil {
		file = config.Empty(ctx.AppDir())
	}

	desc, err := modes.Lookup(ctx.Mode())
	if err != nil {
		return nil, stageErr(StageDefaults, err)
	}

	tree := frameworkDefaults(ctx)
	tree = Merge(tree, modeDefaults(ctx.Mode()))

	user, err := file.Evaluate(ctx)
	if err != nil {
		return nil, stageErr(StageUser, err)
	}
	modeOverrides, err := userModeOverrides(user, ctx.Mode())
	if err != nil {
		return nil, stageErr(StageUserMode, err)
	}
	delete(user, "modes")
	tree = Merge(tree, user)
	if modeOverrides != nil {
		tree = Merge(tree, modeOverrides)
	}

	fileEnv, envFiles, err := config.LoadEnv(ctx.AppDir(), ctx)
	if err != nil {
		return nil, stageErr(StageEnv, err)
	}
	applyEnv(tree, fileEnv)

	if err := applyCLI(tree, ctx); err != nil {
		return nil, stageErr(StageCLI, err)
	}

	key, keyErr := r.fingerprint(tree, file, ctx, desc)
	if keyErr == nil && r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			r.logger.Debug("config resolved from cache", "mode", ctx.Mode(), "fingerprint", canonical.Short(key, 12))
			return cached.Clone(), nil
		}
	}

	res, err := validate(tree, file, ctx, desc)
	if err != nil {
		return nil, stageErr(StageValidate, err)
	}
	res.EnvFiles = envFiles

	if err := materialize(res, tree, desc); err != nil {
		return nil, stageErr(StageTargets, err)
	}
	if err := checkOutputs(res); err != nil {
		return nil, stageErr(StageValidate, err)
	}
	res.WatchPaths = watchPaths(file, ctx, res)
	res.Fingerprint = key

	if keyErr == nil && r.cache != nil {
		r.cache.Add(key, res)
	}

	r.logger.Debug("config resolved",
		"mode", ctx.Mode(),
		"targets", len(res.SubTargets),
		"fingerprint", canonical.Short(key, 12),
	)
	return res.Clone(), nil
}

// applyEnv places .env values under build.env; explicit build.env entries in
// the config file win.
func applyEnv(tree map[string]any, fileEnv map[string]string) {
	env := map[string]any{}
	for k, v := range fileEnv {
		env[k] = v
	}
	if userEnv := lookupMap(tree, "build.env"); userEnv != nil {
		env = Merge(env, userEnv)
	}
	set(tree, "build.env", env)
}

func applyCLI(tree map[string]any, ctx appctx.Context) error {
	if ctx.Port() != 0 {
		set(tree, "devServer.port", ctx.Port())
	}
	if ctx.Host() != "" {
		set(tree, "devServer.host", ctx.Host())
	}
	if ctx.Debug() {
		set(tree, "build.sourcemap", true)
		set(tree, "build.minify", false)
		set(tree, "build.debug", true)
	}
	if ctx.Bundler() != "" {
		if ctx.Mode() != modes.Electron {
			return fmt.Errorf("--bundler only applies to electron mode")
		}
		set(tree, "electron.bundler", ctx.Bundler())
	}
	return nil
}

// fingerprint hashes every input the result depends on, including which entry
// sources currently exist.
func (r *Resolver) fingerprint(tree map[string]any, file *config.File, ctx appctx.Context, desc modes.Descriptor) (string, error) {
	ctxKey := ctx.Vars()
	ctxKey["appDir"] = ctx.AppDir()
	ctxKey["host"] = ctx.Host()
	ctxKey["port"] = ctx.Port()
	ctxKey["skipPkg"] = ctx.SkipPkg()

	opts, err := graphOptions(tree, ctx)
	if err != nil {
		return "", err
	}
	entries := map[string]any{}
	for _, spec := range desc.Targets(opts) {
		if src := entrySource(tree, spec); src != "" {
			_, statErr := os.Stat(filepath.Join(ctx.AppDir(), src))
			entries[src] = statErr == nil
		}
	}

	return canonical.Fingerprint(tree, ctxKey, file.Path, entries, desc.IsInstalled(ctx.AppDir()))
}

// userModeOverrides returns the modes.<mode> section of the user config.
func userModeOverrides(user map[string]any, mode modes.Mode) (map[string]any, error) {
	raw, ok := user["modes"]
	if !ok || raw == nil {
		return nil, nil
	}
	all, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'modes' must be an object keyed by mode name, got %T", raw)
	}
	section, ok := all[string(mode)]
	if !ok || section == nil {
		return nil, nil
	}
	m, ok := section.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'modes.%s' must be an object, got %T", mode, section)
	}
	return m, nil
}

func graphOptions(tree map[string]any, ctx appctx.Context) (modes.Options, error) {
	opts := modes.Options{
		Dev:         ctx.Dev(),
		SkipPkg:     ctx.SkipPkg(),
		WorkboxMode: lookupString(tree, "pwa.workboxMode", ""),
	}
	if ctx.Mode() == modes.BEX {
		raw, _ := lookup(tree, "bex.contentScripts")
		scripts, err := config.Commands(raw)
		if err != nil {
			return opts, fmt.Errorf("bex.contentScripts must be a list of names: %w", err)
		}
		opts.ContentScripts = scripts
	}
	return opts, nil
}

func validate(tree map[string]any, file *config.File, ctx appctx.Context, desc modes.Descriptor) (*Resolved, error) {
	if err := desc.Install(ctx.AppDir()); err != nil {
		return nil, err
	}

	distDir := lookupString(tree, "build.distDir", "")
	if strings.TrimSpace(distDir) == "" {
		return nil, fmt.Errorf("missing required field 'build.distDir'")
	}
	if !filepath.IsAbs(distDir) {
		distDir = filepath.Join(ctx.AppDir(), distDir)
	}
	distDir = filepath.Clean(distDir)
	if fsutil.Contains(distDir, ctx.AppDir()) {
		return nil, fmt.Errorf("%w: 'build.distDir' %s contains the app folder", ErrUnsafeOutput, distDir)
	}

	bundlerName := lookupString(tree, "build.bundler", "")
	if !knownBundlers[bundlerName] {
		return nil, fmt.Errorf("unknown bundler %q in 'build.bundler' (expected vite|webpack)", bundlerName)
	}

	dev, err := devServer(tree)
	if err != nil {
		return nil, err
	}

	switch ctx.Mode() {
	case modes.PWA:
		if wm := lookupString(tree, "pwa.workboxMode", ""); !workboxModes[wm] {
			return nil, fmt.Errorf("unknown 'pwa.workboxMode' %q (expected GenerateSW|InjectManifest)", wm)
		}
	case modes.Electron:
		if b := lookupString(tree, "electron.bundler", ""); b != "packager" && b != "builder" {
			return nil, fmt.Errorf("unknown 'electron.bundler' %q (expected packager|builder)", b)
		}
	}

	opts, err := graphOptions(tree, ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, name := range opts.ContentScripts {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("empty name in 'bex.contentScripts'")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate content script %q in 'bex.contentScripts'", name)
		}
		seen[name] = true
	}

	for _, spec := range desc.Targets(opts) {
		src := entrySource(tree, spec)
		if src == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(ctx.AppDir(), src)); err != nil {
			return nil, fmt.Errorf("%w for %s: %s not found", ErrNoEntry, spec.Name, src)
		}
	}

	res := &Resolved{
		Context:    ctx,
		ConfigPath: file.Path,
		DistDir:    distDir,
		DevServer:  dev,
		Callbacks:  map[string][]string{},
		Bundlers:   map[string]config.Tool{},
	}

	for _, hook := range config.HookNames {
		v, _ := lookup(tree, "build."+hook)
		cmds, err := config.Commands(v)
		if err != nil {
			return nil, fmt.Errorf("'build.%s': %w", hook, err)
		}
		if len(cmds) > 0 {
			res.Callbacks[hook] = cmds
		}
	}

	if raw, ok := tree["extensions"]; ok && raw != nil {
		if err := config.Decode(raw, &res.Extensions); err != nil {
			return nil, fmt.Errorf("invalid 'extensions': %w", err)
		}
	}
	if raw, ok := tree["bundlers"]; ok && raw != nil {
		if err := config.Decode(raw, &res.Bundlers); err != nil {
			return nil, fmt.Errorf("invalid 'bundlers': %w", err)
		}
	}
	if raw, ok := tree["publish"]; ok && raw != nil {
		if err := config.Decode(raw, &res.Publish); err != nil {
			return nil, fmt.Errorf("invalid 'publish': %w", err)
		}
	}

	options := config.Clone(tree).(map[string]any)
	for _, key := range []string{"extensions", "bundlers", "publish"} {
		delete(options, key)
	}
	for _, hook := range config.HookNames {
		remove(options, "build."+hook)
	}
	res.Options = options

	return res, nil
}

func devServer(tree map[string]any) (DevServer, error) {
	port, ok := lookupInt(tree, "devServer.port", DefaultPort)
	if !ok || port < 0 || port > 65535 {
		return DevServer{}, fmt.Errorf("invalid 'devServer.port'")
	}
	hubPort, ok := lookupInt(tree, "devServer.hubPort", 0)
	if !ok || hubPort < 0 || hubPort > 65535 {
		return DevServer{}, fmt.Errorf("invalid 'devServer.hubPort'")
	}

	grace := 5 * time.Second
	if v, ok := lookup(tree, "devServer.stopGrace"); ok {
		switch g := v.(type) {
		case string:
			d, err := time.ParseDuration(g)
			if err != nil {
				return DevServer{}, fmt.Errorf("invalid 'devServer.stopGrace': %w", err)
			}
			grace = d
		case float64:
			grace = time.Duration(g) * time.Millisecond
		case int:
			grace = time.Duration(g) * time.Millisecond
		default:
			return DevServer{}, errors.New("invalid 'devServer.stopGrace'")
		}
	}
	if grace <= 0 {
		return DevServer{}, errors.New("'devServer.stopGrace' must be positive")
	}

	return DevServer{
		Host:      lookupString(tree, "devServer.host", "localhost"),
		Port:      port,
		HubPort:   hubPort,
		Open:      lookupBool(tree, "devServer.open", true),
		StopGrace: grace,
	}, nil
}

func watchPaths(file *config.File, ctx appctx.Context, res *Resolved) []string {
	set := map[string]bool{}
	if file.Path != "" {
		set[file.Path] = true
	}
	for _, p := range config.EnvFiles(ctx.AppDir(), ctx) {
		set[p] = true
	}
	for _, st := range res.SubTargets {
		if st.Entry != "" && !strings.HasPrefix(st.Entry, generatedDir(ctx)) {
			set[st.Entry] = true
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// checkOutputs rejects sub-target output folders that would take the app
// folder with them when cleaned.
func checkOutputs(res *Resolved) error {
	appDir := res.Context.AppDir()
	for _, st := range res.SubTargets {
		if st.OutDir != "" && fsutil.Contains(st.OutDir, appDir) {
			return fmt.Errorf("%w: output folder %s of %s contains the app folder", ErrUnsafeOutput, st.OutDir, st.Name)
		}
	}
	return nil
}
