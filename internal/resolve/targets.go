package resolve

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/modes"
	"github.com/quasarcli/quasar/internal/workspace"
)

// sourceFileKeys maps a target kind to the sourceFiles key that may relocate
// its entry.
var sourceFileKeys = map[modes.Kind]string{
	modes.KindUI:            "indexHtmlTemplate",
	modes.KindClient:        "indexHtmlTemplate",
	modes.KindServiceWorker: "pwaServiceWorker",
	modes.KindMain:          "electronMain",
	modes.KindPreload:       "electronPreload",
	modes.KindWebserver:     "ssrServerIndex",
}

func generatedDir(ctx appctx.Context) string {
	return workspace.New(ctx.AppDir()).Root()
}

// entrySource returns the app-relative entry a target compiles, honouring
// sourceFiles overrides. Targets built from generated entries return "".
func entrySource(tree map[string]any, spec modes.TargetSpec) string {
	if spec.Source == "" {
		return ""
	}
	if key, ok := sourceFileKeys[spec.Kind]; ok {
		return lookupString(tree, "sourceFiles."+key, spec.Source)
	}
	return spec.Source
}

// toolFor picks the bundler or packager that compiles a target.
func toolFor(tree map[string]any, ctx appctx.Context, kind modes.Kind) string {
	switch kind {
	case modes.KindUI, modes.KindClient, modes.KindServer:
		return lookupString(tree, "build.bundler", "vite")
	case modes.KindPackager:
		if ctx.Mode() == modes.Electron {
			return "electron-" + lookupString(tree, "electron.bundler", "packager")
		}
		return string(ctx.Mode())
	}
	return "esbuild"
}

func isClientKind(k modes.Kind) bool {
	switch k {
	case modes.KindUI, modes.KindClient, modes.KindServiceWorker,
		modes.KindBackground, modes.KindContent, modes.KindDom:
		return true
	}
	return false
}

func isServerKind(k modes.Kind) bool {
	return k == modes.KindServer || k == modes.KindWebserver
}

func jsonLiteral(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "undefined"
	}
	return string(data)
}

// defines computes the define-style constants for one target. Client and
// server targets of the same build get opposite values, so these are never
// shared between targets.
func defines(tree map[string]any, ctx appctx.Context, kind modes.Kind) map[string]string {
	client := isClientKind(kind)
	server := isServerKind(kind)
	ssr := ctx.Mode() == modes.SSR

	d := map[string]string{
		"process.env.CLIENT":          jsonLiteral(client),
		"process.env.SERVER":          jsonLiteral(server),
		"process.env.MODE":            jsonLiteral(string(ctx.Mode())),
		"process.env.DEV":             jsonLiteral(ctx.Dev()),
		"process.env.PROD":            jsonLiteral(ctx.Prod()),
		"process.env.DEBUGGING":       jsonLiteral(lookupBool(tree, "build.debug", false)),
		"process.env.TARGET":          jsonLiteral(ctx.Target()),
		"__QUASAR_SSR__":              jsonLiteral(ssr),
		"__QUASAR_SSR_CLIENT__":       jsonLiteral(ssr && client),
		"__QUASAR_SSR_SERVER__":       jsonLiteral(ssr && server),
		"__QUASAR_SSR_PWA__":          jsonLiteral(ssr && lookupBool(tree, "ssr.pwa", false)),
		"process.env.VUE_ROUTER_BASE": jsonLiteral(lookupString(tree, "build.publicPath", "/")),
	}

	if env := lookupMap(tree, "build.env"); env != nil {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d["process.env."+k] = jsonLiteral(env[k])
		}
	}
	return d
}

// fixedOverrides are the per-target requirements applied after every other
// layer.
func fixedOverrides(spec modes.TargetSpec, st SubTarget, ctx appctx.Context) map[string]any {
	build := map[string]any{
		"outDir": st.OutDir,
		"define": definesTree(st.Defines),
	}
	if st.OutFile != "" {
		build["outFile"] = st.OutFile
	}

	switch spec.Kind {
	case modes.KindServer, modes.KindWebserver:
		build["target"] = "node"
		build["ssr"] = true
	case modes.KindMain, modes.KindPreload:
		build["target"] = "node"
		build["platform"] = "node"
	case modes.KindBackground, modes.KindContent, modes.KindDom, modes.KindServiceWorker:
		build["format"] = "iife"
	}

	out := map[string]any{
		"name":  spec.Name,
		"kind":  string(spec.Kind),
		"tool":  st.Tool,
		"mode":  string(ctx.Mode()),
		"dev":   ctx.Dev(),
		"build": build,
	}
	if st.Entry != "" {
		out["entry"] = st.Entry
	}
	return out
}

func definesTree(d map[string]string) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// materialize creates one self-contained SubTarget per node of the mode's graph.
func materialize(res *Resolved, tree map[string]any, desc modes.Descriptor) error {
	ctx := res.Context
	opts, err := graphOptions(tree, ctx)
	if err != nil {
		return err
	}

	specs := desc.Targets(opts)
	res.SubTargets = make([]SubTarget, 0, len(specs))

	for _, spec := range specs {
		st := SubTarget{
			Name:  spec.Name,
			Kind:  spec.Kind,
			Tool:  toolFor(tree, ctx, spec.Kind),
			Stage: spec.Stage,
		}
		st.Commands = res.Bundlers[st.Tool]

		if src := entrySource(tree, spec); src != "" {
			st.Entry = filepath.Join(ctx.AppDir(), src)
		} else if spec.Kind == modes.KindServer {
			st.Entry = workspace.New(ctx.AppDir()).EntryPath("server-entry.js")
		}

		switch {
		case spec.OutFile != "":
			st.OutFile = filepath.Join(res.DistDir, filepath.FromSlash(spec.OutFile))
			st.OutDir = filepath.Dir(st.OutFile)
		case strings.HasPrefix(spec.OutDir, "@app/"):
			st.OutDir = filepath.Join(ctx.AppDir(), filepath.FromSlash(strings.TrimPrefix(spec.OutDir, "@app/")))
		default:
			st.OutDir = filepath.Join(res.DistDir, filepath.FromSlash(spec.OutDir))
		}

		st.Defines = defines(tree, ctx, spec.Kind)
		st.Config = Merge(res.Options, fixedOverrides(spec, st, ctx))

		res.SubTargets = append(res.SubTargets, st)
	}
	return nil
}
