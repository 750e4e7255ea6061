package dev

import (
	"context"
	"errors"
	"sync"

	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/devserver"
	"github.com/quasarcli/quasar/internal/eventlog"
	"github.com/quasarcli/quasar/internal/protocol"
	"github.com/quasarcli/quasar/internal/resolve"
)

// Session is one dev lifecycle, from Start to Stop. Reconfigures keep the
// session and replace its watchers.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	err       error

	hub *devserver.Hub
	log *eventlog.EventLog

	// owned by the goroutine currently starting, restarting or stopping
	handles []bundler.ServerHandle

	// guarded by the orchestrator lock
	res *resolve.Resolved
	gen *generation
}

// Ready is closed once the first compile of every sub-target has reported,
// or the start failed.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Err returns why the start failed. Valid after Ready is closed.
func (s *Session) Err() error {
	<-s.ready
	return s.err
}

// HubURL is the base URL of the status hub.
func (s *Session) HubURL() string {
	if s.hub == nil {
		return ""
	}
	return s.hub.URL()
}

func (s *Session) closeReady(err error) {
	s.readyOnce.Do(func() {
		s.err = err
		close(s.ready)
	})
}

// generation is one set of watchers for one resolved configuration. Its first
// result per target is latched so readiness is signalled once however many
// done events a tool reports.
type generation struct {
	targets   []protocol.TargetStatus
	index     map[string]int
	errs      map[string]error
	seen      map[string]bool
	remaining int
	settled   chan struct{}
}

func newGeneration(res *resolve.Resolved) *generation {
	g := &generation{
		targets:   make([]protocol.TargetStatus, len(res.SubTargets)),
		index:     make(map[string]int, len(res.SubTargets)),
		errs:      map[string]error{},
		seen:      map[string]bool{},
		remaining: len(res.SubTargets),
		settled:   make(chan struct{}),
	}
	for i, st := range res.SubTargets {
		g.targets[i] = protocol.TargetStatus{Name: st.Name, Phase: protocol.PhaseCompiling}
		g.index[st.Name] = i
	}
	if g.remaining == 0 {
		close(g.settled)
	}
	return g
}

// record stores the outcome of a compile and reports whether it was the
// first one for the target.
func (g *generation) record(name string, err error) bool {
	i, ok := g.index[name]
	if !ok {
		return false
	}
	g.targets[i].Phase = protocol.PhaseDone
	g.targets[i].Errors = nil
	if err != nil {
		g.targets[i].Errors = messages(err)
	}
	g.errs[name] = err

	if g.seen[name] {
		return false
	}
	g.seen[name] = true
	g.remaining--
	if g.remaining == 0 {
		close(g.settled)
	}
	return true
}

// err joins the current errors in target order.
func (g *generation) err() error {
	var errs []error
	for _, ts := range g.targets {
		if err := g.errs[ts.Name]; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func messages(err error) []string {
	var ce *bundler.CompileError
	if errors.As(err, &ce) && len(ce.Messages) > 0 {
		return append([]string(nil), ce.Messages...)
	}
	return []string{err.Error()}
}
