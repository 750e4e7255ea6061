package testharness

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/quasarcli/quasar/internal/bundler"
	"github.com/quasarcli/quasar/internal/resolve"
)

// FakeAdapter is an in-process bundler.Adapter. Compiles go through
// FakeCompile; watch sessions poll the entry the way cmd/fakebundler does.
type FakeAdapter struct {
	// CompileDelay is how long every compile takes.
	CompileDelay time.Duration
	// Poll is the entry polling interval of watch sessions.
	Poll time.Duration
	// DoneRepeats makes every watch round report its result this many extra
	// times, like tools that emit several done events per rebuild.
	DoneRepeats int
	// FailTargets makes Compile fail for the named targets.
	FailTargets map[string]bool
	// StopErr, when set, is returned by every handle's Stop and the session
	// is counted as still live.
	StopErr error

	mu          sync.Mutex
	attempted   []string
	compiled    []string
	inFlight    int
	maxInFlight int
	watchStarts int
	live        int
	maxLive     int
	aborted     int
}

// NewFakeAdapter returns an adapter with a fast poll interval.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{Poll: 10 * time.Millisecond}
}

func fakeTarget(st resolve.SubTarget) FakeTarget {
	return FakeTarget{
		Name:    st.Name,
		Kind:    string(st.Kind),
		Entry:   st.Entry,
		OutDir:  st.OutDir,
		OutFile: st.OutFile,
	}
}

// Compile implements bundler.Adapter.
func (f *FakeAdapter) Compile(ctx context.Context, st resolve.SubTarget) (bundler.CompileResult, error) {
	f.mu.Lock()
	f.attempted = append(f.attempted, st.Name)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := f.sleep(ctx); err != nil {
		return bundler.CompileResult{}, err
	}

	if f.FailTargets[st.Name] {
		return bundler.CompileResult{}, &bundler.CompileError{Target: st.Name, Messages: []string{"forced failure"}}
	}

	res, err := f.compile(st)
	if err != nil {
		return bundler.CompileResult{}, err
	}

	f.mu.Lock()
	f.compiled = append(f.compiled, st.Name)
	f.mu.Unlock()
	return res, nil
}

func (f *FakeAdapter) compile(st resolve.SubTarget) (bundler.CompileResult, error) {
	status := FakeCompile(fakeTarget(st))
	if status.Failed() {
		return bundler.CompileResult{}, &bundler.CompileError{Target: st.Name, Messages: status.Errors}
	}
	return bundler.CompileResult{
		Target:   st.Name,
		OutDir:   st.OutDir,
		Files:    status.Files,
		Duration: time.Duration(status.DurationMs) * time.Millisecond,
	}, nil
}

func (f *FakeAdapter) sleep(ctx context.Context) error {
	if f.CompileDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.CompileDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		f.aborted++
		f.mu.Unlock()
		return ctx.Err()
	}
}

// Watch implements bundler.Adapter.
func (f *FakeAdapter) Watch(ctx context.Context, st resolve.SubTarget, onReady func(bundler.CompileResult), onError func(error)) (bundler.ServerHandle, error) {
	if st.Entry != "" {
		if _, err := os.Stat(st.Entry); err != nil {
			return nil, fmt.Errorf("failed to start watch for %q: %w", st.Name, err)
		}
	}

	f.mu.Lock()
	f.watchStarts++
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	h := &fakeHandle{adapter: f, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		f.watch(ctx, st, onReady, onError)
	}()
	return h, nil
}

func (f *FakeAdapter) watch(ctx context.Context, st resolve.SubTarget, onReady func(bundler.CompileResult), onError func(error)) {
	round := func() {
		if f.sleep(ctx) != nil {
			return
		}
		res, err := f.compile(st)
		for i := 0; i <= f.DoneRepeats; i++ {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
			} else {
				onReady(res)
			}
		}
	}

	last := entryFingerprint(st.Entry)
	round()

	ticker := time.NewTicker(f.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fp := entryFingerprint(st.Entry); fp != last {
				last = fp
				round()
			}
		}
	}
}

func entryFingerprint(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
}

// Attempted lists targets in the order their compiles started.
func (f *FakeAdapter) Attempted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempted...)
}

// Compiled lists targets whose compiles succeeded, in completion order.
func (f *FakeAdapter) Compiled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.compiled...)
}

// MaxInFlight is the highest number of concurrent compiles seen.
func (f *FakeAdapter) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// WatchStarts counts Watch calls that started a session.
func (f *FakeAdapter) WatchStarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchStarts
}

// Live is the number of sessions not yet stopped.
func (f *FakeAdapter) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// MaxLive is the highest number of simultaneously live sessions seen.
func (f *FakeAdapter) MaxLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// Aborted counts compiles abandoned because their context ended.
func (f *FakeAdapter) Aborted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

type fakeHandle struct {
	adapter *FakeAdapter
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if h.adapter.StopErr != nil {
		return h.adapter.StopErr
	}
	h.once.Do(func() {
		h.adapter.mu.Lock()
		h.adapter.live--
		h.adapter.mu.Unlock()
	})
	return nil
}
