package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/dev"
	"github.com/quasarcli/quasar/internal/devserver"
	"github.com/quasarcli/quasar/internal/hooks"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/transcript"
	"github.com/quasarcli/quasar/internal/watch"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Start a dev session",
	Long: `Start a dev session for the selected mode: run beforeDev hooks, start one
watching bundler per sub-target and the status hub, then run afterDev hooks.
Edits to the config file or its .env files restart the watchers with the new
configuration. Extension hooks are registered once per session; changes to the
extensions section apply after restarting quasar dev. Stop with Ctrl+C.`,
	RunE: runDev,
}

func init() {
	addContextFlags(devCmd)
}

func runDev(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	logger, err := newLogger(cmd, out)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	inv, res, err := prepare(cmd, logger, true)
	if err != nil {
		return err
	}

	shell := &hooks.Shell{Stdout: out, Stderr: cmd.ErrOrStderr(), Logger: logger}
	registry, err := extensionHooks(shell, res)
	if err != nil {
		return err
	}

	exec := bundler.NewExecAdapter(res.Context.AppDir(), logger)
	exec.Stderr = cmd.ErrOrStderr()
	exec.SetTranscript(out, transcript.NewFormatter())

	orch := dev.NewOrchestrator(bundler.NewRegistry(exec), registry, logger)
	orch.SetShell(shell)
	orch.OnTransition(func(t dev.Transition) {
		if t.To == dev.Running && t.Err != nil {
			fmt.Fprintf(out, "Compiled with errors:\n%v\n", t.Err)
		}
	})

	session, err := startSession(ctx, orch, res)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Dev session %s running (%s), status at %s\n", session.ID, res.Context.Mode(), session.HubURL()+devserver.StatusPath)

	watcher, err := watch.New(res.WatchPaths, watch.DefaultDebounce, logger)
	if err != nil {
		return errors.Join(err, stopSession(orch, res))
	}

	watched := make(chan struct{})
	go func() {
		defer close(watched)
		_ = watcher.Run(ctx, func(changed []string) {
			reconfigure(inv, orch, watcher, res.Extensions, changed, logger)
		})
	}()

	<-ctx.Done()
	<-watched
	logger.Info("stopping dev session")
	return stopSession(orch, res)
}

// startSession starts a session and, when Start fails or is interrupted,
// stops whatever it had already launched.
func startSession(ctx context.Context, orch *dev.Orchestrator, res *resolve.Resolved) (*dev.Session, error) {
	session, err := orch.Start(ctx, res)
	if err == nil {
		return session, nil
	}
	return nil, errors.Join(err, stopSession(orch, res))
}

// stopSession stops the session within its stop grace.
func stopSession(orch *dev.Orchestrator, res *resolve.Resolved) error {
	grace := res.DevServer.StopGrace
	if grace <= 0 {
		grace = dev.DefaultStopGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace+time.Second)
	defer cancel()
	return orch.Stop(ctx)
}

// reconfigure re-resolves after an edit. A configuration that does not
// resolve is reported and the running watchers are kept. registered are the
// extensions whose hooks the session runs.
func reconfigure(inv *invocation, orch *dev.Orchestrator, watcher *watch.Watcher, registered []config.Extension, changed []string, logger *slog.Logger) {
	logger.Info("configuration changed", "files", changed)

	next, err := inv.reload()
	if err != nil {
		var cfgErr *resolve.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Error("configuration not applied", "stage", cfgErr.Stage, "error", cfgErr.Err)
			return
		}
		logger.Error("configuration not applied", "error", err)
		return
	}

	if err := watcher.Set(next.WatchPaths); err != nil {
		logger.Warn("failed to update watched files", "error", err)
	}
	if !extensionsEqual(registered, next.Extensions) {
		logger.Warn("extension hooks changed; restart quasar dev to apply them")
	}

	// an unchanged configuration restarts only to recover from compile errors
	if cur := orch.Current(); cur != nil && cur.Fingerprint == next.Fingerprint && !hasErrors(orch.Snapshot()) {
		logger.Debug("configuration unchanged, watchers kept")
		return
	}
	if err := orch.Reconfigure(next); err != nil {
		logger.Error("failed to apply configuration", "error", err)
	}
}

func hasErrors(st protocol.DevStatus) bool {
	for _, t := range st.Targets {
		if len(t.Errors) > 0 {
			return true
		}
	}
	return false
}

func extensionsEqual(a, b []config.Extension) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
