package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"llamachat/internal/engine"
)

// chatEngine replays fixed fragments and counts calls.
type chatEngine struct {
	frags []string

	mu      sync.Mutex
	loads   []string
	benches int
	unloads int
}

func (e *chatEngine) Load(ctx context.Context, path string) error {
	e.mu.Lock()
	e.loads = append(e.loads, path)
	e.mu.Unlock()
	return nil
}

func (e *chatEngine) Generate(ctx context.Context, prompt string, onFragment func(string) error) error {
	for _, f := range e.frags {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return nil
}

func (e *chatEngine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	e.mu.Lock()
	e.benches++
	e.mu.Unlock()
	return "| model | test | t/s |", nil
}

func (e *chatEngine) Unload() error {
	e.mu.Lock()
	e.unloads++
	e.mu.Unlock()
	return nil
}

func (e *chatEngine) counts() (loads, benches, unloads int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loads), e.benches, e.unloads
}

func newFakeApp(eng *chatEngine) *app {
	return &app{engineFn: func() (engine.Engine, error) { return eng, nil }}
}

// lockedBuffer is a bytes.Buffer safe for a writer goroutine and a polling reader.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func waitForOutput(t *testing.T, out *lockedBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, out.String())
}

func writeModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF-test-weights"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}
