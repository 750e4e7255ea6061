// Package entryfiles writes the files bundlers compile from instead of user
// sources: the app descriptor, the client entry and, for ssr, the server
// entry. Unchanged files are not rewritten so watchers stay quiet.
package entryfiles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/fsutil"
	"github.com/quasarcli/quasar/internal/modes"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/workspace"
)

const (
	AppFile    = "app.json"
	ClientFile = "client-entry.js"
	ServerFile = "server-entry.js"
)

var templates = template.Must(template.New("entries").Parse(`
{{- define "header" -}}
/**
 * THIS FILE IS GENERATED AUTOMATICALLY.
 * DO NOT EDIT.
 *
 * You are probably looking on adding startup/initialization code.
 * Use "quasar new boot <name>" and add it there.
 **/
{{end -}}

{{- define "client" -}}
{{template "header"}}
import { createApp } from 'vue'
{{range .CSS}}import {{printf "%q" .}}
{{end -}}
import RootComponent from 'app/src/App.vue'
{{range $i, $b := .Boot}}import boot{{$i}} from {{printf "%q" $b}}
{{end}}
const publicPath = {{printf "%q" .PublicPath}}

async function start () {
  const app = createApp(RootComponent)
  const boots = [{{range $i, $b := .Boot}}{{if $i}}, {{end}}boot{{$i}}{{end}}]

  for (const boot of boots) {
    if (typeof boot === 'function') {
      await boot({ app, publicPath, ssrContext: null })
    }
  }

  app.mount('#q-app')
}

start()
{{end -}}

{{- define "server" -}}
{{template "header"}}
import { createSSRApp } from 'vue'
import RootComponent from 'app/src/App.vue'
{{range $i, $b := .Boot}}import boot{{$i}} from {{printf "%q" $b}}
{{end}}
const publicPath = {{printf "%q" .PublicPath}}

export default async ssrContext => {
  const app = createSSRApp(RootComponent)
  const boots = [{{range $i, $b := .Boot}}{{if $i}}, {{end}}boot{{$i}}{{end}}]

  for (const boot of boots) {
    if (typeof boot === 'function') {
      await boot({ app, publicPath, ssrContext })
    }
  }

  return app
}
{{end -}}
`))

type entryData struct {
	CSS        []string
	Boot       []string
	PublicPath string
}

// AppDescriptor is the content of app.json.
type AppDescriptor struct {
	Mode        string      `json:"mode"`
	Target      string      `json:"target,omitempty"`
	Dev         bool        `json:"dev"`
	Debug       bool        `json:"debug"`
	PublicPath  string      `json:"publicPath"`
	DistDir     string      `json:"distDir"`
	Fingerprint string      `json:"fingerprint"`
	Targets     []AppTarget `json:"targets"`
}

// AppTarget describes one sub-target in app.json.
type AppTarget struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Tool   string `json:"tool"`
	OutDir string `json:"outDir"`
}

// Generator writes entry files into <app>/.quasar.
type Generator struct {
	logger *slog.Logger
}

// New creates a Generator.
func New(logger *slog.Logger) *Generator {
	return &Generator{logger: logger}
}

// Generate writes every entry file res needs and returns the paths that
// changed on disk.
func (g *Generator) Generate(res *resolve.Resolved) ([]string, error) {
	layout := workspace.New(res.Context.AppDir())
	data, err := newEntryData(res)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{}

	app, err := json.MarshalIndent(descriptor(res, data.PublicPath), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", AppFile, err)
	}
	files[AppFile] = append(app, '\n')

	if files[ClientFile], err = render("client", data); err != nil {
		return nil, err
	}
	if res.Context.Mode() == modes.SSR {
		if files[ServerFile], err = render("server", data); err != nil {
			return nil, err
		}
	}

	var changed []string
	for _, name := range []string{AppFile, ClientFile, ServerFile} {
		content, ok := files[name]
		if !ok {
			continue
		}
		path := layout.EntryPath(name)
		wrote, err := fsutil.WriteIfChanged(path, content)
		if err != nil {
			return changed, fmt.Errorf("failed to write %s: %w", name, err)
		}
		if wrote {
			changed = append(changed, path)
		}
	}

	g.logger.Debug("entry files generated", "mode", res.Context.Mode(), "changed", len(changed))
	return changed, nil
}

func render(name string, data entryData) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s entry: %w", name, err)
	}
	return buf.Bytes(), nil
}

func newEntryData(res *resolve.Resolved) (entryData, error) {
	css, err := config.Commands(res.Options["css"])
	if err != nil {
		return entryData{}, fmt.Errorf("invalid 'css': %w", err)
	}
	boot, err := config.Commands(res.Options["boot"])
	if err != nil {
		return entryData{}, fmt.Errorf("invalid 'boot': %w", err)
	}

	d := entryData{PublicPath: "/"}
	if build, ok := res.Options["build"].(map[string]any); ok {
		if p, ok := build["publicPath"].(string); ok && p != "" {
			d.PublicPath = p
		}
	}
	for _, c := range css {
		d.CSS = append(d.CSS, cssImport(c))
	}
	for _, b := range boot {
		d.Boot = append(d.Boot, "boot/"+strings.TrimSuffix(b, filepath.Ext(b)))
	}
	return d, nil
}

// cssImport maps a css entry to its import path. A leading ~ refers to a
// package; anything else lives in src/css.
func cssImport(name string) string {
	if strings.HasPrefix(name, "~") {
		return strings.TrimPrefix(name, "~")
	}
	return "src/css/" + name
}

func descriptor(res *resolve.Resolved, publicPath string) AppDescriptor {
	ctx := res.Context
	d := AppDescriptor{
		Mode:        string(ctx.Mode()),
		Target:      ctx.Target(),
		Dev:         ctx.Dev(),
		Debug:       ctx.Debug(),
		PublicPath:  publicPath,
		DistDir:     res.DistDir,
		Fingerprint: res.Fingerprint,
		Targets:     make([]AppTarget, 0, len(res.SubTargets)),
	}
	for _, st := range res.SubTargets {
		d.Targets = append(d.Targets, AppTarget{Name: st.Name, Kind: string(st.Kind), Tool: st.Tool, OutDir: st.OutDir})
	}
	return d
}
