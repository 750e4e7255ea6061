package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/supervisor"
)

// Shell builds handlers that run shell commands for config callbacks and
// declared extensions.
type Shell struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Commands returns a handler running cmds in order in the app dir. It returns
// nil when cmds is empty.
func (s *Shell) Commands(extensionID string, cmds []string) Handler {
	if len(cmds) == 0 {
		return nil
	}
	cmds = append([]string(nil), cmds...)

	return func(ctx context.Context, p Payload) error {
		env := map[string]string{
			"QUASAR_HOOK":      p.Hook,
			"QUASAR_MODE":      p.Mode,
			"QUASAR_DIST_DIR":  p.DistDir,
			"QUASAR_PUBLISH":   p.Publish,
			"QUASAR_EXTENSION": extensionID,
		}
		for _, line := range cmds {
			s.Logger.Info("running hook command", "hook", p.Hook, "extension", extensionID, "cmd", line)
			cmd := supervisor.Shell(ctx, line, p.AppDir, env)
			cmd.Stdout = s.Stdout
			cmd.Stderr = s.Stderr
			if err := supervisor.Run(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

// RegisterExtensions registers the shell hooks of every declared extension,
// in declaration order.
func (s *Shell) RegisterExtensions(r *Registry, exts []config.Extension) error {
	for _, ext := range exts {
		for _, hook := range config.HookNames {
			h := s.Commands(ext.ID, ext.Hooks[hook])
			if h == nil {
				continue
			}
			if err := r.Register(ext.ID, hook, h); err != nil {
				return fmt.Errorf("failed to register extension %s: %w", ext.ID, err)
			}
		}
	}
	return nil
}
