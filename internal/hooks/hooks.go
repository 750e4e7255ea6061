// Package hooks runs the lifecycle hook chains (beforeDev, afterDev,
// beforeBuild, afterBuild, onPublish) around builds and dev sessions.
//
// Handlers for a hook run strictly one after another in registration order.
// The config file's own callback for a hook always runs first, then the
// extension chain. The first failure aborts the rest of the chain.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Hook names.
const (
	BeforeDev   = "beforeDev"
	AfterDev    = "afterDev"
	BeforeBuild = "beforeBuild"
	AfterBuild  = "afterBuild"
	OnPublish   = "onPublish"
)

// ConfigExtensionID attributes failures of the config file's own callbacks.
const ConfigExtensionID = "quasar.config"

var validHooks = map[string]bool{
	BeforeDev: true, AfterDev: true, BeforeBuild: true, AfterBuild: true, OnPublish: true,
}

// ErrFrozen is returned when registering after the registry was frozen.
var ErrFrozen = errors.New("hook registry is frozen")

// Payload is passed to every handler of a chain.
type Payload struct {
	Hook    string
	Mode    string
	AppDir  string
	DistDir string
	// Publish is the --publish argument; set only for onPublish.
	Publish string
}

// Handler is one hook implementation.
type Handler func(ctx context.Context, p Payload) error

// Registration binds a handler to the extension that registered it.
type Registration struct {
	ExtensionID string
	Handler     Handler
}

// HookError reports the handler that failed.
type HookError struct {
	Hook        string
	ExtensionID string
	Err         error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s failed in extension %s: %v", e.Hook, e.ExtensionID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Registry maps hook names to ordered handler lists. It is populated while
// extensions register and read-only once frozen.
type Registry struct {
	mu     sync.RWMutex
	hooks  map[string][]Registration
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string][]Registration)}
}

// Register appends a handler for hook.
func (r *Registry) Register(extensionID, hook string, h Handler) error {
	if extensionID == "" {
		return fmt.Errorf("extension id is required")
	}
	if !validHooks[hook] {
		return fmt.Errorf("unknown hook %q", hook)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s/%s", extensionID, hook)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %s/%s", ErrFrozen, extensionID, hook)
	}
	r.hooks[hook] = append(r.hooks[hook], Registration{ExtensionID: extensionID, Handler: h})
	return nil
}

// Handlers returns a copy of the chain registered for hook.
func (r *Registry) Handlers(hook string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.hooks[hook]...)
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Sequencer runs hook chains.
type Sequencer struct {
	logger *slog.Logger
	// OnEvent, when set, observes every handler start and finish.
	OnEvent func(Event)
}

// Event describes the progress of one handler.
type Event struct {
	Hook        string
	ExtensionID string
	Done        bool
	Err         error
	Duration    time.Duration
}

// NewSequencer creates a Sequencer.
func NewSequencer(logger *slog.Logger) *Sequencer {
	return &Sequencer{logger: logger}
}

// Run executes callback (may be nil) and then handlers, one at a time, each
// completing before the next starts. The first failure stops the chain and is
// returned as *HookError.
func (s *Sequencer) Run(ctx context.Context, hook string, callback Handler, handlers []Registration, payload Payload) error {
	payload.Hook = hook

	chain := make([]Registration, 0, len(handlers)+1)
	if callback != nil {
		chain = append(chain, Registration{ExtensionID: ConfigExtensionID, Handler: callback})
	}
	chain = append(chain, handlers...)

	if len(chain) == 0 {
		return nil
	}

	s.logger.Debug("running hook chain", "hook", hook, "handlers", len(chain))

	for _, reg := range chain {
		if err := ctx.Err(); err != nil {
			return &HookError{Hook: hook, ExtensionID: reg.ExtensionID, Err: err}
		}

		s.emit(Event{Hook: hook, ExtensionID: reg.ExtensionID})
		start := time.Now()
		err := s.invoke(ctx, reg, payload)
		elapsed := time.Since(start)
		s.emit(Event{Hook: hook, ExtensionID: reg.ExtensionID, Done: true, Err: err, Duration: elapsed})

		if err != nil {
			s.logger.Error("hook failed", "hook", hook, "extension", reg.ExtensionID, "error", err)
			return &HookError{Hook: hook, ExtensionID: reg.ExtensionID, Err: err}
		}
		s.logger.Debug("hook completed", "hook", hook, "extension", reg.ExtensionID, "duration", elapsed)
	}
	return nil
}

// invoke calls one handler, turning a panic into an error so that a broken
// handler is attributed like any other failure.
func (s *Sequencer) invoke(ctx context.Context, reg Registration, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.Handler(ctx, payload)
}

func (s *Sequencer) emit(e Event) {
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
}
