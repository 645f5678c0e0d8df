package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"llamachat/internal/acquire"
)

// fakeClock is advanced explicitly by tests and fakes.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeEngine is an in-memory engine that records calls and detects overlap.
type fakeEngine struct {
	clock *fakeClock

	loadErr   error
	unloadErr error
	benchErr  error
	genErr    error
	frags     []string
	// gate, when set, holds Generate after the fragments until it is closed
	// or the context ends. emitted is closed once all fragments were taken.
	gate    chan struct{}
	emitted chan struct{}
	// warmup is how far the first Bench call advances the clock.
	warmup time.Duration

	mu         sync.Mutex
	loads      []string
	unloads    int
	benchCalls [][4]int
	prompts    []string

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeEngine) enter() func() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.active.Add(-1) }
}

func (f *fakeEngine) Load(ctx context.Context, path string) error {
	defer f.enter()()
	f.mu.Lock()
	f.loads = append(f.loads, path)
	f.mu.Unlock()
	return f.loadErr
}

func (f *fakeEngine) Generate(ctx context.Context, prompt string, onFragment func(string) error) error {
	defer f.enter()()
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	for _, frag := range f.frags {
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	if f.emitted != nil {
		close(f.emitted)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.genErr
}

func (f *fakeEngine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	defer f.enter()()
	f.mu.Lock()
	f.benchCalls = append(f.benchCalls, [4]int{pp, tg, pl, nr})
	first := len(f.benchCalls) == 1
	f.mu.Unlock()
	if first && f.clock != nil {
		f.clock.Advance(f.warmup)
	} else if f.clock != nil {
		f.clock.Advance(30 * time.Second)
	}
	if f.benchErr != nil {
		return "", f.benchErr
	}
	if first {
		return "warmup result", nil
	}
	return "full result", nil
}

func (f *fakeEngine) Unload() error {
	defer f.enter()()
	f.mu.Lock()
	f.unloads++
	f.mu.Unlock()
	return f.unloadErr
}

func (f *fakeEngine) counts() (loads, unloads, benches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads), f.unloads, len(f.benchCalls)
}

// fakeResolver returns a fixed path or error.
type fakeResolver struct {
	path  string
	err   error
	calls atomic.Int32
}

func (r *fakeResolver) Resolve(ctx context.Context, d acquire.Descriptor) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	if r.path != "" {
		return r.path, nil
	}
	return d.LocalPath, nil
}

// writeModel creates a small non-empty model file.
func writeModel(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF-test-model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

func newTestController(t *testing.T, eng *fakeEngine, res Resolver) (*Controller, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	var now func() time.Time
	if eng.clock != nil {
		now = eng.clock.Now
	}
	c, err := New(Config{
		Engine:     eng,
		Resolver:   res,
		Publisher:  pub,
		Registerer: prometheus.NewRegistry(),
		Now:        now,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Wait(ctx); err != nil {
			t.Errorf("generation still running at cleanup: %v", err)
		}
	})
	return c, pub
}

// loadReady loads a resident model file and asserts the session is Ready.
func loadReady(t *testing.T, c *Controller) string {
	t.Helper()
	path := writeModel(t, t.TempDir(), "model.bin")
	if err := c.Load(context.Background(), acquire.Descriptor{Name: "model.bin", LocalPath: path}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if st := c.State(); st.Kind != KindReady {
		t.Fatalf("state after load=%s", st)
	}
	return path
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

// dialogue drops system notes so tests can compare the chat itself.
func dialogue(turns []Turn) []Turn {
	var out []Turn
	for _, tr := range turns {
		if tr.Origin != OriginSystem {
			out = append(out, tr)
		}
	}
	return out
}

var errBoom = errors.New("boom")
