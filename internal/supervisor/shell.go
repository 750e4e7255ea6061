package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"
)

// waitDelay bounds how long Wait keeps draining pipes after the process is
// gone, for commands whose children inherited stdout.
const waitDelay = 2 * time.Second

// Shell returns a command that runs line through the platform shell
// (/bin/sh -c, or cmd /C on windows) in its own process group. Cancelling ctx
// kills the whole group.
func Shell(ctx context.Context, line, dir string, env map[string]string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", line)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", line)
	}
	cmd.Dir = dir
	cmd.Env = mergeEnv(env)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// Run executes cmd to completion, streaming output to the command's
// configured writers. It returns an error that includes the exit status.
func Run(cmd *exec.Cmd) error {
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", commandLine(cmd), err)
	}
	return nil
}

// Quote makes s safe to splice into a Shell command line as one argument.
func Quote(s string) string {
	if runtime.GOOS == "windows" {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func commandLine(cmd *exec.Cmd) string {
	if len(cmd.Args) == 0 {
		return cmd.Path
	}
	return cmd.Args[len(cmd.Args)-1]
}

// mergeEnv inherits the parent environment and appends extra in a stable order.
func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}
