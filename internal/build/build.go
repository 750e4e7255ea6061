// Package build runs production builds: it cleans the output, generates entry
// files, runs the beforeBuild chain, compiles every sub-target stage by stage,
// packages, runs afterBuild and optionally publishes.
//
// A build either compiles every sub-target and reports success, or stops at
// the first failure and reports what completed until then. Outputs already on
// disk are left in place.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quasarcli/quasar/internal/artifacts"
	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/entryfiles"
	"github.com/quasarcli/quasar/internal/eventlog"
	"github.com/quasarcli/quasar/internal/hooks"
	"github.com/quasarcli/quasar/internal/modes"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/internal/publish"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/runstate"
	"github.com/quasarcli/quasar/internal/transcript"
	"github.com/quasarcli/quasar/internal/workspace"
)

// TranscriptFormatter formats messages for console display
type TranscriptFormatter interface {
	FormatEvent(*protocol.Event) string
	FormatBanner(transcript.Summary) string
}

// BuildError reports the phase, and for compile failures the sub-target, a
// build stopped in.
type BuildError struct {
	Phase  runstate.Phase
	Target string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("build failed in %s (%s): %v", e.Phase, e.Target, e.Err)
	}
	return fmt.Sprintf("build failed in %s: %v", e.Phase, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Coordinator runs builds. One Coordinator may run several builds, one at a
// time.
type Coordinator struct {
	adapters *bundler.Registry
	hooks    *hooks.Registry
	shell    *hooks.Shell
	entries  *entryfiles.Generator
	logger   *slog.Logger
	out      io.Writer

	publisher  publish.Publisher
	transcript TranscriptFormatter
}

// NewCoordinator creates a coordinator compiling through adapters and running
// the extension chains of registry.
func NewCoordinator(adapters *bundler.Registry, registry *hooks.Registry, logger *slog.Logger) *Coordinator {
	if registry == nil {
		registry = hooks.NewRegistry()
	}
	return &Coordinator{
		adapters: adapters,
		hooks:    registry,
		shell:    &hooks.Shell{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger},
		entries:  entryfiles.New(logger),
		logger:   logger,
		out:      io.Discard,
	}
}

// SetOutput sets where transcript lines and the success banner go.
func (c *Coordinator) SetOutput(w io.Writer) {
	c.out = w
}

// SetShell sets how config callbacks are run.
func (c *Coordinator) SetShell(s *hooks.Shell) {
	c.shell = s
}

// SetPublisher overrides the publisher built from the publish section.
func (c *Coordinator) SetPublisher(p publish.Publisher) {
	c.publisher = p
}

// SetTranscriptFormatter sets the transcript formatter for console output
func (c *Coordinator) SetTranscriptFormatter(formatter TranscriptFormatter) {
	c.transcript = formatter
}

// run carries the state of one build.
type run struct {
	id     string
	res    *resolve.Resolved
	layout workspace.Layout
	report *runstate.RunState
	log    *eventlog.EventLog
}

// Run builds res. The returned report is never nil once the run has started;
// on failure it records how far the build got and the error is a *BuildError.
func (c *Coordinator) Run(ctx context.Context, res *resolve.Resolved) (*runstate.RunState, error) {
	appDir := res.Context.AppDir()
	if err := workspace.Initialize(appDir); err != nil {
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}

	r := &run{
		id:     uuid.NewString(),
		res:    res,
		layout: workspace.New(appDir),
	}
	r.report = runstate.NewRunState(r.id, string(res.Context.Mode()), res.Context.Target(), res.DistDir)

	log, err := eventlog.Open(r.layout, r.id, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	r.log = log
	defer r.log.Close()

	c.logger.Info("build started", "run_id", r.id, "mode", res.Context.Mode(), "dist", res.DistDir)
	c.emit(r, &protocol.Event{Event: protocol.EventRunStarted, Payload: map[string]any{"fingerprint": res.Fingerprint}})

	if err := c.phases(ctx, r); err != nil {
		r.report.MarkFailed(err)
		c.save(r)
		c.emit(r, &protocol.Event{Event: protocol.EventRunFailed, Status: protocol.StatusFailed, Phase: string(r.report.CurrentPhase), Error: err.Error()})
		c.logger.Error("build failed", "run_id", r.id, "phase", r.report.CurrentPhase, "error", err)
		return r.report, err
	}

	r.report.MarkSucceeded()
	c.save(r)
	c.emit(r, &protocol.Event{Event: protocol.EventRunCompleted, Status: protocol.StatusOK})
	c.logger.Info("build completed", "run_id", r.id, "duration", r.report.Duration())

	if c.transcript != nil {
		fmt.Fprint(c.out, c.transcript.FormatBanner(c.summary(r)))
	}
	return r.report, nil
}

func (c *Coordinator) phases(ctx context.Context, r *run) error {
	steps := []struct {
		phase runstate.Phase
		skip  bool
		fn    func(context.Context, *run) error
	}{
		{phase: runstate.PhaseCleaning, fn: c.clean},
		{phase: runstate.PhaseEntryFiles, fn: c.generate},
		{phase: runstate.PhaseBeforeBuild, fn: c.hook(hooks.BeforeBuild)},
		{phase: runstate.PhaseCompiling, fn: c.compile},
		{phase: runstate.PhasePackaging, fn: c.pack},
		{phase: runstate.PhaseAfterBuild, fn: c.hook(hooks.AfterBuild)},
		{phase: runstate.PhasePublishing, skip: r.res.Context.Publish() == "", fn: c.publish},
	}

	for _, step := range steps {
		if step.skip {
			continue
		}
		r.report.SetPhase(step.phase)
		c.save(r)
		c.emit(r, &protocol.Event{Event: protocol.EventPhaseStarted, Phase: string(step.phase)})

		if err := step.fn(ctx, r); err != nil {
			var be *BuildError
			if errors.As(err, &be) {
				return err
			}
			return &BuildError{Phase: step.phase, Err: err}
		}
		c.emit(r, &protocol.Event{Event: protocol.EventPhaseCompleted, Phase: string(step.phase), Status: protocol.StatusOK})
	}
	return nil
}

// clean empties the dist dir and every output folder outside of it.
func (c *Coordinator) clean(_ context.Context, r *run) error {
	appDir := r.res.Context.AppDir()
	for _, dir := range outputRoots(r.res) {
		c.logger.Debug("cleaning output folder", "dir", dir)
		if err := artifacts.Clean(dir); err != nil {
			return err
		}
		if err := artifacts.Add(appDir, dir); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) generate(_ context.Context, r *run) error {
	changed, err := c.entries.Generate(r.res)
	if err != nil {
		return err
	}
	c.logger.Debug("entry files generated", "changed", len(changed))

	if _, err := entryfiles.RegenerateFeatureFlags(r.res.Context.AppDir(), c.logger); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) hook(name string) func(context.Context, *run) error {
	return func(ctx context.Context, r *run) error {
		return c.runHook(ctx, r, name)
	}
}

func (c *Coordinator) runHook(ctx context.Context, r *run, name string) error {
	seq := hooks.NewSequencer(c.logger)
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
		c.emit(r, evt)
	}

	payload := hooks.Payload{
		Mode:    string(r.res.Context.Mode()),
		AppDir:  r.res.Context.AppDir(),
		DistDir: r.res.DistDir,
	}
	if name == hooks.OnPublish {
		payload.Publish = r.res.Context.Publish()
	}

	callback := c.shell.Commands(hooks.ConfigExtensionID, r.res.Callbacks[name])
	return seq.Run(ctx, name, callback, c.hooks.Handlers(name), payload)
}

// compile runs the stages in order. Targets of one stage compile together;
// the first failure cancels the rest of its stage and ends the build.
func (c *Coordinator) compile(ctx context.Context, r *run) error {
	for i, stage := range r.res.Stages() {
		results := make([]*runstate.TargetState, len(stage))

		g, gctx := errgroup.WithContext(ctx)
		for j, st := range stage {
			g.Go(func() error {
				ts, err := c.compileTarget(gctx, st)
				if ts != nil {
					results[j] = ts
				}
				return err
			})
		}
		err := g.Wait()

		for _, ts := range results {
			if ts != nil {
				r.report.RecordTarget(*ts)
			}
		}
		c.save(r)

		for _, ts := range results {
			if ts == nil {
				continue
			}
			evt := &protocol.Event{Event: protocol.EventTargetCompiled, Target: ts.Name, Status: protocol.StatusOK, Payload: map[string]any{"files": len(ts.Files)}}
			if ts.Status == runstate.StatusFailed {
				evt = &protocol.Event{Event: protocol.EventTargetFailed, Target: ts.Name, Status: protocol.StatusFailed, Error: strings.Join(ts.Errors, "; ")}
			}
			c.emit(r, evt)
		}

		if err != nil {
			return err
		}

		// the extension manifest follows the UI and precedes the scripts
		if i == 0 && r.res.Context.Mode() == modes.BEX {
			if err := writeBEXManifest(r.res); err != nil {
				return err
			}
		}
	}
	return nil
}

// compileTarget returns a nil state for a compile cancelled because a sibling
// failed.
func (c *Coordinator) compileTarget(ctx context.Context, st resolve.SubTarget) (*runstate.TargetState, error) {
	adapter, err := c.adapters.For(st.Tool)
	if err != nil {
		return &runstate.TargetState{Name: st.Name, Status: runstate.StatusFailed, Errors: []string{err.Error()}},
			&BuildError{Phase: runstate.PhaseCompiling, Target: st.Name, Err: err}
	}

	c.logger.Info("compiling", "target", st.Name, "tool", st.Tool)
	start := time.Now()
	result, err := adapter.Compile(ctx, st)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil && !errors.As(err, new(*bundler.CompileError)) {
			return nil, ctx.Err()
		}
		ts := &runstate.TargetState{Name: st.Name, Status: runstate.StatusFailed, DurationMs: elapsed.Milliseconds()}
		var ce *bundler.CompileError
		if errors.As(err, &ce) {
			ts.Errors = ce.Messages
		} else {
			ts.Errors = []string{err.Error()}
		}
		c.logger.Error("compile failed", "target", st.Name, "error", err)
		return ts, &BuildError{Phase: runstate.PhaseCompiling, Target: st.Name, Err: err}
	}

	if result.Duration > 0 {
		elapsed = result.Duration
	}
	return &runstate.TargetState{
		Name:       st.Name,
		Status:     runstate.StatusSucceeded,
		Files:      result.Files,
		Warnings:   result.Warnings,
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

// pack copies extension assets and zips the extension unless packaging is
// skipped, then records what the dist dir holds.
func (c *Coordinator) pack(_ context.Context, r *run) error {
	if r.res.Context.Mode() == modes.BEX {
		if err := copyBEXAssets(r.res); err != nil {
			return err
		}
		if !r.res.Context.SkipPkg() {
			zipPath, err := zipBEX(r.res, c.logger)
			if err != nil {
				return err
			}
			c.logger.Info("extension packaged", "zip", zipPath)
		}
	}

	manifest, err := artifacts.Capture(r.res.DistDir)
	if err != nil {
		return err
	}
	r.report.Manifest = manifest
	return nil
}

// publish runs the onPublish chain, then uploads the build when a
// destination is configured.
func (c *Coordinator) publish(ctx context.Context, r *run) error {
	if err := c.runHook(ctx, r, hooks.OnPublish); err != nil {
		return err
	}

	p := c.publisher
	if p == nil {
		var err error
		p, err = publish.New(r.res.Publish, c.logger)
		if err != nil {
			return err
		}
	}
	if p == nil {
		c.logger.Debug("no publish destination configured", "publish", r.res.Context.Publish())
		return nil
	}

	result, err := p.Publish(ctx, publish.Request{
		Arg:      r.res.Context.Publish(),
		DistDir:  r.res.DistDir,
		Manifest: r.report.Manifest,
	})
	if err != nil {
		return err
	}
	r.report.Published = result.Location
	c.emit(r, &protocol.Event{
		Event:   protocol.EventPublished,
		Status:  protocol.StatusOK,
		Payload: map[string]any{"location": result.Location, "objects": result.Objects},
	})
	return nil
}

func (c *Coordinator) emit(r *run, evt *protocol.Event) {
	evt.Mode = string(r.res.Context.Mode())
	if err := r.log.WriteEvent(evt); err != nil {
		c.logger.Warn("failed to write event", "event", evt.Event, "error", err)
	}
	if c.transcript != nil {
		fmt.Fprintln(c.out, c.transcript.FormatEvent(evt))
	}
}

func (c *Coordinator) save(r *run) {
	if err := runstate.SaveRunState(r.report, r.layout.ReportPath()); err != nil {
		c.logger.Warn("failed to save build report", "error", err)
	}
}

func (c *Coordinator) summary(r *run) transcript.Summary {
	s := transcript.Summary{
		Mode:      r.report.Mode,
		Target:    r.report.Target,
		DistDir:   r.res.DistDir,
		Targets:   r.report.Succeeded(),
		Duration:  r.report.Duration(),
		Published: r.report.Published,
	}
	if m := r.report.Manifest; m != nil {
		s.Files = len(m.Files)
		s.Bytes = m.TotalSize()
	}
	return s
}

// outputRoots lists the dist dir followed by every output folder of a
// sub-target that lives outside of it.
func outputRoots(res *resolve.Resolved) []string {
	roots := []string{res.DistDir}
	seen := map[string]bool{res.DistDir: true}
	for _, st := range res.SubTargets {
		if st.OutFile != "" || st.OutDir == "" || seen[st.OutDir] {
			continue
		}
		if rel, err := filepath.Rel(res.DistDir, st.OutDir); err == nil && !strings.HasPrefix(rel, "..") {
			continue
		}
		seen[st.OutDir] = true
		roots = append(roots, st.OutDir)
	}
	return roots
}
