// Package bundler defines how sub-targets are handed to the external tools
// that compile them.
package bundler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quasarcli/quasar/internal/resolve"
)

// CompileResult describes one successful compile of a sub-target.
type CompileResult struct {
	Target   string        `json:"target"`
	OutDir   string        `json:"outDir"`
	Files    []string      `json:"files,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CompileError is returned when a tool reports a failed compile.
type CompileError struct {
	Target   string
	Messages []string
	Err      error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compile failed for %q", e.Target)
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

// ServerHandle is a running watch session.
type ServerHandle interface {
	// Stop ends the session. No callback fires after Stop returns nil.
	Stop(ctx context.Context) error
}

// Adapter compiles sub-targets with one tool.
type Adapter interface {
	Compile(ctx context.Context, st resolve.SubTarget) (CompileResult, error)
	// Watch starts a watch session. onReady is called after every successful
	// compile and onError after every failed one or when the session dies.
	// Cancelling ctx ends the session and abandons any compile in flight.
	Watch(ctx context.Context, st resolve.SubTarget, onReady func(CompileResult), onError func(error)) (ServerHandle, error)
}

// Registry maps tool names to adapters. Tools without a registered adapter
// use the fallback.
type Registry struct {
	mu       sync.RWMutex
	fallback Adapter
	tools    map[string]Adapter
}

// NewRegistry returns a registry that hands unknown tools to fallback, which
// may be nil.
func NewRegistry(fallback Adapter) *Registry {
	return &Registry{fallback: fallback, tools: make(map[string]Adapter)}
}

// Register binds tool to a.
func (r *Registry) Register(tool string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool] = a
}

// For returns the adapter that compiles tool.
func (r *Registry) For(tool string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.tools[tool]; ok {
		return a, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no adapter for tool %q (registered: %s)", tool, strings.Join(r.names(), ", "))
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type envKey struct{}

// WithEnv returns a context whose watch and compile commands get env added to
// their environment. Values already on ctx are kept unless overridden.
func WithEnv(ctx context.Context, env map[string]string) context.Context {
	merged := make(map[string]string)
	for k, v := range EnvFrom(ctx) {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	return context.WithValue(ctx, envKey{}, merged)
}

// EnvFrom returns the environment attached with WithEnv.
func EnvFrom(ctx context.Context) map[string]string {
	env, _ := ctx.Value(envKey{}).(map[string]string)
	return env
}
