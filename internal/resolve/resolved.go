package resolve

import (
	"sort"
	"time"

	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/modes"
)

// SubTarget is one compilation unit. Config is self-contained: no two
// sub-targets share any part of their trees.
type SubTarget struct {
	Name  string     `json:"name"`
	Kind  modes.Kind `json:"kind"`
	Tool  string     `json:"tool"`
	Stage int        `json:"stage"`
	// Entry is the absolute entry source, or "" for packagers.
	Entry string `json:"entry,omitempty"`
	// OutDir is the absolute output directory. OutFile is set for single-file targets.
	OutDir  string            `json:"outDir"`
	OutFile string            `json:"outFile,omitempty"`
	Defines map[string]string `json:"defines"`
	Config  map[string]any    `json:"config"`
	// Commands drive the tool for this target, from the bundlers section.
	Commands config.Tool `json:"commands"`
}

func (s SubTarget) clone() SubTarget {
	out := s
	out.Defines = make(map[string]string, len(s.Defines))
	for k, v := range s.Defines {
		out.Defines[k] = v
	}
	out.Config = config.Clone(s.Config).(map[string]any)
	out.Commands.Env = append([]string(nil), s.Commands.Env...)
	return out
}

// DevServer holds the dev settings the orchestrator needs.
type DevServer struct {
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	HubPort   int           `json:"hubPort"`
	Open      bool          `json:"open"`
	StopGrace time.Duration `json:"stopGrace"`
}

// Resolved is the final configuration for one build or dev cycle. It is
// replaced, never patched, when the configuration changes.
type Resolved struct {
	Context    appctx.Context         `json:"-"`
	ConfigPath string                 `json:"configPath,omitempty"`
	Options    map[string]any         `json:"options"`
	SubTargets []SubTarget            `json:"subTargets"`
	Callbacks  map[string][]string    `json:"callbacks,omitempty"`
	Extensions []config.Extension     `json:"extensions,omitempty"`
	Bundlers   map[string]config.Tool `json:"bundlers,omitempty"`
	Publish    config.Publish         `json:"publish"`
	DevServer  DevServer              `json:"devServer"`
	DistDir    string                 `json:"distDir"`
	WatchPaths []string               `json:"watchPaths"`
	EnvFiles   []string               `json:"envFiles,omitempty"`
	// Fingerprint identifies the inputs this value was resolved from.
	Fingerprint string `json:"fingerprint"`
}

// Clone returns a deep copy.
func (r *Resolved) Clone() *Resolved {
	out := *r
	out.Options = config.Clone(r.Options).(map[string]any)

	out.SubTargets = make([]SubTarget, len(r.SubTargets))
	for i, st := range r.SubTargets {
		out.SubTargets[i] = st.clone()
	}

	out.Callbacks = make(map[string][]string, len(r.Callbacks))
	for k, v := range r.Callbacks {
		out.Callbacks[k] = append([]string(nil), v...)
	}

	out.Extensions = make([]config.Extension, len(r.Extensions))
	for i, ext := range r.Extensions {
		hooks := make(map[string][]string, len(ext.Hooks))
		for k, v := range ext.Hooks {
			hooks[k] = append([]string(nil), v...)
		}
		out.Extensions[i] = config.Extension{ID: ext.ID, Hooks: hooks}
	}

	out.Bundlers = make(map[string]config.Tool, len(r.Bundlers))
	for k, v := range r.Bundlers {
		v.Env = append([]string(nil), v.Env...)
		out.Bundlers[k] = v
	}

	if r.Publish.S3 != nil {
		s3 := *r.Publish.S3
		out.Publish.S3 = &s3
	}

	out.WatchPaths = append([]string(nil), r.WatchPaths...)
	out.EnvFiles = append([]string(nil), r.EnvFiles...)
	return &out
}

// Target returns the sub-target with the given name.
func (r *Resolved) Target(name string) (SubTarget, bool) {
	for _, st := range r.SubTargets {
		if st.Name == name {
			return st, true
		}
	}
	return SubTarget{}, false
}

// Stages groups sub-targets by stage index, lowest first, keeping declaration
// order inside each group.
func (r *Resolved) Stages() [][]SubTarget {
	byStage := make(map[int][]SubTarget)
	for _, st := range r.SubTargets {
		byStage[st.Stage] = append(byStage[st.Stage], st)
	}

	idx := make([]int, 0, len(byStage))
	for i := range byStage {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([][]SubTarget, 0, len(idx))
	for _, i := range idx {
		out = append(out, byStage[i])
	}
	return out
}
