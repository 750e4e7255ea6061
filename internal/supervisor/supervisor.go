// Package supervisor runs bundler commands as subprocesses: one-shot builds
// through Shell and Run, long-running watch sessions through Process.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/quasarcli/quasar/internal/ndjson"
	"github.com/quasarcli/quasar/internal/protocol"
)

// DefaultStopTimeout applies when Stop is called with a context that has no
// deadline.
const DefaultStopTimeout = 5 * time.Second

// ErrStopTimeout is returned when the process had to be killed.
var ErrStopTimeout = errors.New("process did not stop in time")

// Process manages one long-running watch subprocess. Its stdout carries
// NDJSON status and log messages; stderr is forwarded line by line.
type Process struct {
	name    string
	command string
	dir     string
	env     map[string]string
	logger  *slog.Logger

	mu       sync.Mutex
	process  *exec.Cmd
	running  bool
	started  bool
	exitErr  error
	exitChan chan struct{}

	statuses    chan *protocol.Status
	logs        chan *protocol.Log
	stderrLines chan string
}

// New creates a supervisor for command, run in dir with env added to the
// inherited environment.
func New(name, command, dir string, env map[string]string, logger *slog.Logger) *Process {
	return &Process{
		name:        name,
		command:     command,
		dir:         dir,
		env:         env,
		logger:      logger,
		exitChan:    make(chan struct{}),
		statuses:    make(chan *protocol.Status, 64),
		logs:        make(chan *protocol.Log, 64),
		stderrLines: make(chan string, 100),
	}
}

// Start launches the subprocess. Cancelling ctx kills it.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("process %s already started", p.name)
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("starting watch process", "target", p.name, "cmd", p.command)

	proc := Shell(ctx, p.command, p.dir, p.env)

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := proc.StderrPipe()
	if err != nil {
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}

	p.mu.Lock()
	p.process = proc
	p.running = true
	p.mu.Unlock()

	p.logger.Debug("watch process started", "target", p.name, "pid", proc.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readStdout(ctx, stdout)
	}()
	go func() {
		defer readers.Done()
		p.readStderr(ctx, stderr)
	}()
	go p.waitForExit(&readers)

	return nil
}

// Stop terminates the process group and waits for it to exit. If ctx expires
// first the group is killed.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	proc := p.process
	p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultStopTimeout)
		defer cancel()
	}

	p.logger.Debug("stopping watch process", "target", p.name)

	if err := terminateGroup(proc); err != nil {
		p.logger.Debug("terminate failed", "target", p.name, "error", err)
	}

	select {
	case <-p.exitChan:
		return nil
	case <-ctx.Done():
		p.logger.Warn("watch process did not stop gracefully, killing", "target", p.name)
		if err := killGroup(proc); err != nil {
			return fmt.Errorf("%w: kill failed: %v", ErrStopTimeout, err)
		}
		select {
		case <-p.exitChan:
			return ErrStopTimeout
		case <-time.After(waitDelay + time.Second):
			return fmt.Errorf("%w: process %s still running after kill", ErrStopTimeout, p.name)
		}
	}
}

// Statuses returns the channel of compile statuses. It is closed when stdout closes.
func (p *Process) Statuses() <-chan *protocol.Status {
	return p.statuses
}

// Logs returns the channel of log messages. It is closed when stdout closes.
func (p *Process) Logs() <-chan *protocol.Log {
	return p.logs
}

// StderrLines returns the channel of stderr lines. It is closed when stderr closes.
func (p *Process) StderrLines() <-chan string {
	return p.stderrLines
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.exitChan
}

// Err returns the exit error after Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) readStdout(ctx context.Context, stdout io.Reader) {
	defer close(p.statuses)
	defer close(p.logs)

	decoder := ndjson.NewDecoder(stdout, p.logger)
	for {
		msg, err := decoder.DecodeEnvelope()
		if err == io.EOF {
			return
		}
		if errors.Is(err, ndjson.ErrStream) {
			p.logger.Error("watch process stdout failed", "target", p.name, "error", err)
			// keep draining so the process never blocks on a full pipe
			_, _ = io.Copy(io.Discard, stdout)
			return
		}
		if err != nil {
			continue
		}

		switch v := msg.(type) {
		case *protocol.Status:
			if v.Target == "" {
				v.Target = p.name
			}
			select {
			case p.statuses <- v:
			case <-ctx.Done():
				return
			}

		case *protocol.Log:
			select {
			case p.logs <- v:
			default:
				p.logger.Debug("log channel full, dropping message", "target", p.name)
			}

		default:
			p.logger.Warn("unexpected message type from watch process",
				"target", p.name,
				"msg_type", fmt.Sprintf("%T", msg))
		}
	}
}

func (p *Process) readStderr(ctx context.Context, stderr io.Reader) {
	defer close(p.stderrLines)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("watch process stderr", "target", p.name, "line", line)

		select {
		case p.stderrLines <- line:
		case <-ctx.Done():
			return
		default:
			p.logger.Warn("stderr channel full, dropping line", "target", p.name)
		}
	}
}

func (p *Process) waitForExit(readers *sync.WaitGroup) {
	p.mu.Lock()
	proc := p.process
	p.mu.Unlock()

	// Wait closes the pipes, so readers must be done before calling it.
	readers.Wait()
	err := proc.Wait()

	p.mu.Lock()
	p.running = false
	p.exitErr = err
	p.mu.Unlock()
	close(p.exitChan)

	if err != nil {
		p.logger.Debug("watch process exited", "target", p.name, "error", err)
	} else {
		p.logger.Debug("watch process exited cleanly", "target", p.name)
	}
}
