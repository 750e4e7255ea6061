// Command fakebundler is a stand-in bundler used by tests. It reads the target
// config written by the exec adapter, "compiles" the entry by copying it into
// the output path, and in watch mode reports NDJSON statuses on stdout each
// time the entry changes.
//
// An entry containing testharness.SyntaxErrorMarker fails to compile.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quasarcli/quasar/internal/ndjson"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/pkg/testharness"
)

func main() {
	mode := flag.String("mode", "build", "build or watch")
	configPath := flag.String("config", "", "Path to the target config (JSON)")
	poll := flag.Duration("poll", 50*time.Millisecond, "Entry polling interval in watch mode")
	ignoreTerm := flag.Bool("ignore-term", false, "Ignore SIGTERM (watch mode)")
	delay := flag.Duration("delay", 0, "Artificial compile duration")
	flag.Parse()

	// stderr for diagnostics, stdout for protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *configPath == "" {
		logger.Error("missing -config")
		os.Exit(2)
	}

	t, err := loadTarget(*configPath)
	if err != nil {
		logger.Error("failed to load target config", "error", err)
		os.Exit(2)
	}

	b := &fakeBundler{
		target:  t,
		logger:  logger,
		encoder: ndjson.NewEncoder(os.Stdout, logger),
		delay:   *delay,
	}

	switch *mode {
	case "build":
		st := b.compile()
		if err := b.encoder.Encode(st); err != nil {
			logger.Error("failed to write status", "error", err)
		}
		if st.Failed() {
			for _, e := range st.Errors {
				fmt.Fprintln(os.Stderr, e)
			}
			os.Exit(1)
		}

	case "watch":
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			for sig := range sigChan {
				if *ignoreTerm && sig == syscall.SIGTERM {
					logger.Info("ignoring signal", "signal", sig)
					continue
				}
				logger.Info("received signal", "signal", sig)
				cancel()
				return
			}
		}()

		logger.Info("watching", "target", t.Name, "hub", os.Getenv("QUASAR_HUB_URL"))
		b.watch(ctx, *poll)

	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
}

func loadTarget(path string) (*testharness.FakeTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t testharness.FakeTarget
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.OutDir == "" {
		return nil, fmt.Errorf("target %q has no outDir", t.Name)
	}
	return &t, nil
}

type fakeBundler struct {
	target  *testharness.FakeTarget
	logger  *slog.Logger
	encoder *ndjson.Encoder
	delay   time.Duration
}

func (b *fakeBundler) compile() protocol.Status {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	return testharness.FakeCompile(*b.target)
}

func (b *fakeBundler) emit(st protocol.Status) {
	if err := b.encoder.Encode(st); err != nil {
		b.logger.Error("failed to write status", "error", err)
	}
}

func (b *fakeBundler) round() {
	b.emit(protocol.Status{
		Kind:       protocol.MessageKindStatus,
		Target:     b.target.Name,
		Phase:      protocol.PhaseCompiling,
		OccurredAt: time.Now().UTC(),
	})
	b.emit(b.compile())
}

func (b *fakeBundler) watch(ctx context.Context, poll time.Duration) {
	last := b.fingerprint()
	b.round()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fp := b.fingerprint()
			if fp != last {
				last = fp
				b.round()
			}
		}
	}
}

// fingerprint identifies the entry contents cheaply enough to poll.
func (b *fakeBundler) fingerprint() string {
	if b.target.Entry == "" {
		return ""
	}
	info, err := os.Stat(b.target.Entry)
	if err != nil {
		return "missing"
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
}
