// Package dev runs dev sessions. The Orchestrator owns the single live set of
// watch processes and the status hub, and moves through
// Idle -> Starting -> Running -> Restarting -> Running ... -> Stopping -> Idle.
//
// Every state change goes through one mutex. Start, Reconfigure and Stop may
// be called from any goroutine.
package dev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/devserver"
	"github.com/quasarcli/quasar/internal/entryfiles"
	"github.com/quasarcli/quasar/internal/eventlog"
	"github.com/quasarcli/quasar/internal/hooks"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/workspace"
)

// State is the lifecycle state of the orchestrator.
type State string

const (
	Idle       State = "idle"
	Starting   State = "starting"
	Running    State = "running"
	Restarting State = "restarting"
	Stopping   State = "stopping"
)

// ErrStopping is returned for requests made while a session is stopping.
var ErrStopping = errors.New("dev session is stopping")

// DefaultStopGrace bounds how long watchers get to stop.
const DefaultStopGrace = 5 * time.Second

// LifecycleError reports a request the current state does not allow, or a
// transition that could not complete.
type LifecycleError struct {
	Op    string
	State State
	Err   error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot %s while %s: %v", e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// Transition describes one state change. Err is set when the session entered
// the state with compile errors, or when a start or restart failed.
type Transition struct {
	From      State
	To        State
	SessionID string
	Err       error
}

// Orchestrator runs at most one dev session at a time.
type Orchestrator struct {
	adapters *bundler.Registry
	hooks    *hooks.Registry
	shell    *hooks.Shell
	entries  *entryfiles.Generator
	logger   *slog.Logger

	// Terminate is called when the watchers of a session could not be
	// stopped before a restart. The default exits the process.
	Terminate func(error)
	// Open opens the app in a browser, at most once per orchestrator.
	Open func(url string) error

	mu        sync.Mutex
	state     State
	session   *Session
	pending   *resolve.Resolved
	worker    chan struct{}
	stopped   chan struct{}
	listeners []func(Transition)
	opened    bool
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(adapters *bundler.Registry, registry *hooks.Registry, logger *slog.Logger) *Orchestrator {
	if registry == nil {
		registry = hooks.NewRegistry()
	}
	return &Orchestrator{
		adapters: adapters,
		hooks:    registry,
		shell:    &hooks.Shell{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger},
		entries:  entryfiles.New(logger),
		logger:   logger,
		state:    Idle,
		Terminate: func(err error) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		},
		Open: openBrowser,
	}
}

// SetShell sets how config callbacks are run.
func (o *Orchestrator) SetShell(s *hooks.Shell) {
	o.shell = s
}

// OnTransition registers fn for every state change. fn runs under the
// orchestrator lock and must not call back into the orchestrator.
func (o *Orchestrator) OnTransition(fn func(Transition)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Status returns the current state.
func (o *Orchestrator) Status() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the status served by the hub.
func (o *Orchestrator) Snapshot() protocol.DevStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(o.session)
}

// Current returns the configuration the live watchers were started from.
func (o *Orchestrator) Current() *resolve.Resolved {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	return o.session.res
}

// Start starts a session for res and waits until every sub-target has
// reported its first compile. Compile errors do not fail Start; they are
// reported through the Running transition and the hub.
//
// While a session is starting or live, Start starts nothing and returns that
// session once it is ready.
func (o *Orchestrator) Start(ctx context.Context, res *resolve.Resolved) (*Session, error) {
	o.mu.Lock()
	switch o.state {
	case Stopping:
		o.mu.Unlock()
		return nil, &LifecycleError{Op: "start", State: Stopping, Err: ErrStopping}
	case Starting, Running, Restarting:
		s := o.session
		o.mu.Unlock()
		o.logger.Debug("dev session already started", "session", s.ID)
		return o.await(ctx, s)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:     uuid.NewString(),
		ctx:    sctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		res:    res,
	}
	o.session = s
	o.pending = nil
	o.transitionLocked(s, Starting, nil)
	done := make(chan struct{})
	o.worker = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		o.start(s, res)
	}()
	return o.await(ctx, s)
}

func (o *Orchestrator) await(ctx context.Context, s *Session) (*Session, error) {
	select {
	case <-s.ready:
		if s.err != nil {
			return nil, s.err
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reconfigure replaces the configuration of the live session. A request made
// while the session is starting or restarting is kept in a single pending
// slot, so a burst of requests results in one trailing restart with the last
// configuration.
func (o *Orchestrator) Reconfigure(res *resolve.Resolved) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.session
	switch o.state {
	case Idle:
		return &LifecycleError{Op: "reconfigure", State: Idle}
	case Stopping:
		return &LifecycleError{Op: "reconfigure", State: Stopping, Err: ErrStopping}
	case Starting, Restarting:
		coalesced := o.pending != nil
		o.pending = res
		o.eventLocked(s, &protocol.Event{Event: protocol.EventDevReconfigure, State: string(o.state), Payload: map[string]any{"queued": true, "coalesced": coalesced}})
		o.logger.Debug("reconfigure queued", "state", o.state, "coalesced", coalesced)
		return nil
	}

	o.eventLocked(s, &protocol.Event{Event: protocol.EventDevReconfigure, State: string(o.state)})
	o.transitionLocked(s, Restarting, nil)
	prev := o.worker
	done := make(chan struct{})
	o.worker = done
	go func() {
		defer close(done)
		// the start worker may still be running afterDev
		if prev != nil {
			<-prev
		}
		o.restart(s, res)
	}()
	return nil
}

// Stop ends the session: it aborts any compile in flight, stops every
// watcher within the stop grace and releases the hub port. Stop on an idle
// orchestrator succeeds.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case Idle:
		o.mu.Unlock()
		return nil
	case Stopping:
		stopped := o.stopped
		o.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s := o.session
	o.transitionLocked(s, Stopping, nil)
	o.pending = nil
	stopped := make(chan struct{})
	o.stopped = stopped
	worker := o.worker
	s.cancel()
	o.mu.Unlock()

	if worker != nil {
		<-worker
	}

	err := o.teardown(ctx, s)
	if s.hub != nil {
		if cerr := s.hub.Close(); cerr != nil {
			o.logger.Debug("failed to close status hub", "error", cerr)
		}
	}
	s.closeReady(&LifecycleError{Op: "start", State: Stopping, Err: ErrStopping})

	o.mu.Lock()
	o.transitionLocked(s, Idle, err)
	o.session = nil
	o.worker = nil
	close(stopped)
	o.mu.Unlock()

	if s.log != nil {
		_ = s.log.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to stop dev session: %w", err)
	}
	return nil
}

// start runs on the worker goroutine of a new session.
func (o *Orchestrator) start(s *Session, res *resolve.Resolved) {
	if err := o.boot(s, res); err != nil {
		o.abort(s, err)
		return
	}

	gen := o.launch(s, res)
	if !o.settle(s, gen) {
		return
	}

	o.mu.Lock()
	if s.ctx.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.transitionLocked(s, Running, gen.err())
	s.closeReady(nil)
	o.mu.Unlock()

	if err := o.runHook(s, res, hooks.AfterDev); err != nil {
		o.logger.Error("afterDev hook failed", "error", err)
	}
	o.openOnce(res)

	o.mu.Lock()
	next := o.pending
	if next == nil || o.state != Running {
		o.mu.Unlock()
		return
	}
	o.pending = nil
	o.transitionLocked(s, Restarting, nil)
	o.mu.Unlock()

	o.restart(s, next)
}

// boot prepares everything a session needs before its watchers start.
func (o *Orchestrator) boot(s *Session, res *resolve.Resolved) error {
	appDir := res.Context.AppDir()
	if err := workspace.Initialize(appDir); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	log, err := eventlog.Open(workspace.New(appDir), s.ID, o.logger)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	o.mu.Lock()
	s.log = log
	o.eventLocked(s, &protocol.Event{Event: protocol.EventRunStarted, State: string(Starting), Payload: map[string]any{"fingerprint": res.Fingerprint}})
	o.mu.Unlock()

	if _, err := o.entries.Generate(res); err != nil {
		return err
	}
	if _, err := entryfiles.RegenerateFeatureFlags(appDir, o.logger); err != nil {
		return err
	}

	if err := o.runHook(s, res, hooks.BeforeDev); err != nil {
		return err
	}

	hub, err := devserver.Listen(res.DevServer.Host, res.DevServer.HubPort, o.logger)
	if err != nil {
		return err
	}
	o.mu.Lock()
	s.hub = hub
	o.mu.Unlock()
	return nil
}

// abort ends a session whose start failed before any watcher ran.
func (o *Orchestrator) abort(s *Session, err error) {
	o.logger.Error("dev session failed to start", "session", s.ID, "error", err)

	o.mu.Lock()
	if s.ctx.Err() != nil {
		// Stop owns the cleanup
		o.mu.Unlock()
		return
	}
	o.transitionLocked(s, Idle, err)
	o.session = nil
	o.worker = nil
	o.mu.Unlock()

	s.cancel()
	if s.hub != nil {
		_ = s.hub.Close()
	}
	if s.log != nil {
		_ = s.log.Close()
	}
	s.closeReady(err)
}

// restart replaces the watchers of s, then keeps applying the pending
// configuration until none is left.
func (o *Orchestrator) restart(s *Session, res *resolve.Resolved) {
	for {
		if err := o.teardown(s.ctx, s); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			o.fail(s, &LifecycleError{Op: "reconfigure", State: Restarting, Err: err})
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		if _, err := o.entries.Generate(res); err != nil {
			o.logger.Error("failed to generate entry files", "error", err)
		}

		gen := o.launch(s, res)
		if !o.settle(s, gen) {
			return
		}

		o.mu.Lock()
		if s.ctx.Err() != nil {
			o.mu.Unlock()
			return
		}
		if next := o.pending; next != nil {
			o.pending = nil
			o.mu.Unlock()
			o.logger.Info("applying queued reconfigure", "session", s.ID)
			res = next
			continue
		}
		o.transitionLocked(s, Running, gen.err())
		o.mu.Unlock()
		return
	}
}

// fail handles watchers that could not be stopped: rather than start a second
// set next to them, the process is terminated.
func (o *Orchestrator) fail(s *Session, err error) {
	o.logger.Error("could not stop previous watchers, terminating", "session", s.ID, "error", err)
	o.Terminate(err)

	// only reached when Terminate returns, as in tests
	o.mu.Lock()
	if s.ctx.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.transitionLocked(s, Idle, err)
	o.session = nil
	o.worker = nil
	o.pending = nil
	o.mu.Unlock()

	s.cancel()
	if s.hub != nil {
		_ = s.hub.Close()
	}
	if s.log != nil {
		_ = s.log.Close()
	}
}

// launch starts one watcher per sub-target of res. A target whose watcher
// cannot start is reported like a compile error so the session survives
// until the next edit.
func (o *Orchestrator) launch(s *Session, res *resolve.Resolved) *generation {
	gen := newGeneration(res)
	o.mu.Lock()
	s.res = res
	s.gen = gen
	o.publishLocked(s)
	o.mu.Unlock()

	ctx := bundler.WithEnv(s.ctx, map[string]string{
		"QUASAR_HUB_URL":  s.hub.URL(),
		"QUASAR_DEV_HOST": res.DevServer.Host,
		"QUASAR_DEV_PORT": strconv.Itoa(res.DevServer.Port),
	})

	for _, st := range res.SubTargets {
		name := st.Name
		adapter, err := o.adapters.For(st.Tool)
		if err != nil {
			o.report(s, gen, name, bundler.CompileResult{}, err)
			continue
		}
		h, err := adapter.Watch(ctx, st,
			func(r bundler.CompileResult) { o.report(s, gen, name, r, nil) },
			func(err error) { o.report(s, gen, name, bundler.CompileResult{}, err) },
		)
		if err != nil {
			o.report(s, gen, name, bundler.CompileResult{}, err)
			continue
		}
		s.handles = append(s.handles, h)
	}
	return gen
}

// settle waits for the first result of every target of gen. It returns false
// when the session was stopped meanwhile.
func (o *Orchestrator) settle(s *Session, gen *generation) bool {
	select {
	case <-gen.settled:
		return s.ctx.Err() == nil
	case <-s.ctx.Done():
		return false
	}
}

// report records a compile outcome of the current generation. Results of
// replaced generations are dropped.
func (o *Orchestrator) report(s *Session, gen *generation, target string, res bundler.CompileResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.gen != gen {
		return
	}

	first := gen.record(target, err)
	evt := &protocol.Event{Event: protocol.EventDevCompile, Target: target, Status: protocol.StatusOK, Payload: map[string]any{"first": first}}
	if err != nil {
		evt.Status = protocol.StatusFailed
		evt.Error = err.Error()
		o.logger.Error("compile failed", "target", target, "error", err)
	} else {
		o.logger.Info("compiled", "target", target)
	}
	o.eventLocked(s, evt)
	o.statusLocked(s, target, res, err)
	o.publishLocked(s)
}

// statusLocked records the compile outcome in the session log.
func (o *Orchestrator) statusLocked(s *Session, target string, res bundler.CompileResult, err error) {
	if s.log == nil {
		return
	}
	st := &protocol.Status{
		Target:     target,
		Phase:      protocol.PhaseDone,
		Files:      res.Files,
		Warnings:   res.Warnings,
		DurationMs: res.Duration.Milliseconds(),
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		st.Errors = messages(err)
	}
	if werr := s.log.WriteStatus(st); werr != nil {
		o.logger.Debug("failed to write status", "target", target, "error", werr)
	}
}

// teardown stops every watcher of s concurrently within the stop grace.
func (o *Orchestrator) teardown(ctx context.Context, s *Session) error {
	handles := s.handles
	s.handles = nil
	if len(handles) == 0 {
		return nil
	}

	grace := DefaultStopGrace
	o.mu.Lock()
	if s.res != nil && s.res.DevServer.StopGrace > 0 {
		grace = s.res.DevServer.StopGrace
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	errs := make([]error, len(handles))
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.Stop(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (o *Orchestrator) runHook(s *Session, res *resolve.Resolved, name string) error {
	seq := hooks.NewSequencer(o.logger)
	seq.OnEvent = func(e hooks.Event) {
		evt := &protocol.Event{Event: protocol.EventHookStarted, Hook: e.Hook, ExtensionID: e.ExtensionID}
		switch {
		case e.Done && e.Err != nil:
			evt.Event = protocol.EventHookFailed
			evt.Status = protocol.StatusFailed
			evt.Error = e.Err.Error()
		case e.Done:
			evt.Event = protocol.EventHookCompleted
			evt.Status = protocol.StatusOK
		}
		o.mu.Lock()
		o.eventLocked(s, evt)
		o.mu.Unlock()
	}

	payload := hooks.Payload{
		Mode:    string(res.Context.Mode()),
		AppDir:  res.Context.AppDir(),
		DistDir: res.DistDir,
	}
	callback := o.shell.Commands(hooks.ConfigExtensionID, res.Callbacks[name])
	return seq.Run(s.ctx, name, callback, o.hooks.Handlers(name), payload)
}

func (o *Orchestrator) openOnce(res *resolve.Resolved) {
	if !res.DevServer.Open || !res.Context.Mode().SupportsBrowserOpen() || o.Open == nil {
		return
	}
	o.mu.Lock()
	if o.opened {
		o.mu.Unlock()
		return
	}
	o.opened = true
	o.mu.Unlock()

	url := fmt.Sprintf("http://%s:%d", res.DevServer.Host, res.DevServer.Port)
	if err := o.Open(url); err != nil {
		o.logger.Warn("failed to open browser", "url", url, "error", err)
	}
}

func (o *Orchestrator) transitionLocked(s *Session, to State, err error) {
	from := o.state
	o.state = to

	t := Transition{From: from, To: to, Err: err}
	evt := &protocol.Event{Event: protocol.EventDevTransition, State: string(to)}
	if s != nil {
		t.SessionID = s.ID
	}
	if err != nil {
		evt.Error = err.Error()
	}
	o.logger.Info("dev session state changed", "from", from, "to", to, "error", err)
	o.eventLocked(s, evt)
	o.publishLocked(s)

	for _, fn := range o.listeners {
		fn(t)
	}
}

func (o *Orchestrator) eventLocked(s *Session, evt *protocol.Event) {
	if s == nil || s.log == nil {
		return
	}
	if s.res != nil {
		evt.Mode = string(s.res.Context.Mode())
	}
	if err := s.log.WriteEvent(evt); err != nil {
		o.logger.Debug("failed to write event", "event", evt.Event, "error", err)
	}
}

func (o *Orchestrator) publishLocked(s *Session) {
	if s == nil || s.hub == nil {
		return
	}
	st := o.snapshotLocked(s)
	s.hub.Publish(st)
	if s.log != nil {
		_ = s.log.WriteDev(&st)
	}
}

func (o *Orchestrator) snapshotLocked(s *Session) protocol.DevStatus {
	st := protocol.DevStatus{
		Kind:      protocol.MessageKindDev,
		State:     string(o.state),
		Targets:   []protocol.TargetStatus{},
		UpdatedAt: time.Now().UTC(),
	}
	if s == nil {
		return st
	}
	st.SessionID = s.ID
	if s.res != nil {
		st.Mode = string(s.res.Context.Mode())
	}
	if s.gen != nil {
		for _, ts := range s.gen.targets {
			ts.Errors = append([]string(nil), ts.Errors...)
			st.Targets = append(st.Targets, ts)
		}
	}
	return st
}
