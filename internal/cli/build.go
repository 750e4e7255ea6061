package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quasarcli/quasar/internal/build"
	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/hooks"
	"github.com/quasarcli/quasar/internal/resolve"
	"github.com/quasarcli/quasar/internal/transcript"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the app for production",
	Long: `Build the app for the selected mode: clean the output directory, generate
entry files, run beforeBuild hooks, compile every sub-target, package, run
afterBuild hooks and, with --publish, the onPublish hooks and the configured
publisher.`,
	RunE: runBuild,
}

func init() {
	addContextFlags(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	_, res, err := prepare(cmd, logger, false)
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

	coord := build.NewCoordinator(bundler.NewRegistry(exec), registry, logger)
	coord.SetShell(shell)
	coord.SetOutput(out)
	coord.SetTranscriptFormatter(transcript.NewFormatter())

	report, err := coord.Run(ctx, res)
	if err != nil {
		return err
	}
	logger.Info("build finished", "run_id", report.RunID, "duration", report.Duration())
	return nil
}

// extensionHooks registers the hooks of every declared extension and freezes
// the registry before any chain runs.
func extensionHooks(shell *hooks.Shell, res *resolve.Resolved) (*hooks.Registry, error) {
	registry := hooks.NewRegistry()
	if err := shell.RegisterExtensions(registry, res.Extensions); err != nil {
		return nil, err
	}
	registry.Freeze()
	return registry, nil
}
