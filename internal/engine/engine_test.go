package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedEngine emits frags in order and then returns err.
type scriptedEngine struct {
	frags []string
	err   error
	block bool // wait for ctx after emitting
}

func (s *scriptedEngine) Load(context.Context, string) error { return nil }
func (s *scriptedEngine) Bench(context.Context, int, int, int, int) (string, error) {
	return "", nil
}
func (s *scriptedEngine) Unload() error { return nil }

func (s *scriptedEngine) Generate(ctx context.Context, _ string, on func(string) error) error {
	for _, f := range s.frags {
		if err := on(f); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func drain(s *Stream) []string {
	var out []string
	for {
		f, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

func TestStreamPreservesOrder(t *testing.T) {
	want := []string{"a", "b", "c", "d"}
	s := Start(context.Background(), &scriptedEngine{frags: want}, "p")
	got := drain(s)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("fragments=%v want %v", got, want)
	}
	if s.Err() != nil {
		t.Fatalf("unexpected err: %v", s.Err())
	}
}

func TestStreamWrapsFailure(t *testing.T) {
	s := Start(context.Background(), &scriptedEngine{frags: []string{"x"}, err: errors.New("boom")}, "p")
	got := drain(s)
	if len(got) != 1 {
		t.Fatalf("fragments=%v", got)
	}
	if !IsEngineError(s.Err()) || s.Err().Error() != "boom" {
		t.Fatalf("err=%v", s.Err())
	}
}

func TestStreamCloseStopsProducer(t *testing.T) {
	s := Start(context.Background(), &scriptedEngine{frags: []string{"a", "b", "c"}, block: true}, "p")
	if f, ok := s.Next(); !ok || f != "a" {
		t.Fatalf("first=%q ok=%v", f, ok)
	}
	s.Close()
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("err=%v", s.Err())
	}
}

func TestStreamParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Start(ctx, &scriptedEngine{block: true}, "p")
	cancel()
	if got := drain(s); len(got) != 0 {
		t.Fatalf("fragments=%v", got)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("err=%v", s.Err())
	}
}

func TestWrapPassesThrough(t *testing.T) {
	if wrap("x", nil) != nil {
		t.Fatal("nil should stay nil")
	}
	if err := wrap("x", context.DeadlineExceeded); err != context.DeadlineExceeded {
		t.Fatalf("context err rewrapped: %v", err)
	}
	orig := &Error{Op: "load", Message: "m"}
	if err := wrap("generate", orig); err != orig {
		t.Fatalf("engine error rewrapped: %v", err)
	}
	if !IsDependencyUnavailable(fmt.Errorf("ctx: %w", ErrDependencyUnavailable("x"))) {
		t.Fatal("wrapped dependency error not detected")
	}
}

func TestBenchMarkdown(t *testing.T) {
	r := BenchResult{Model: "m.gguf", SizeBytes: 3 << 20, Backend: "CPU", PP: 512, TG: 128, PL: 1,
		PPRates: []float64{100, 110}, TGRates: []float64{10, 10}}
	md := r.Markdown()
	for _, want := range []string{
		"| model | size | backend | test | t/s |",
		"| m.gguf | 3.0 MiB | CPU | pp 512 pl 1 | 105.00 ± 7.07 |",
		"| m.gguf | 3.0 MiB | CPU | tg 128 pl 1 | 10.00 ± 0.00 |",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestNormalizeBench(t *testing.T) {
	pp, tg, pl, nr := normalizeBench(-1, -2, 0, 0)
	if pp != 0 || tg != 0 || pl != 1 || nr != 1 {
		t.Fatalf("got %d %d %d %d", pp, tg, pl, nr)
	}
}

func TestNewUnknownKindAndStub(t *testing.T) {
	if _, err := New("gpu", ServerOptions{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown engine kind")
	}
	if !LlamaBuilt() {
		err := NewLlama(Options{}, zerolog.Nop()).Load(context.Background(), "/x.gguf")
		if !IsDependencyUnavailable(err) {
			t.Fatalf("stub load err=%v", err)
		}
	}
}

func newFakeLlamaServer(t *testing.T, benchCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frag := range []string{"H", "ello"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"text\":%q}]}\n\n", frag)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		benchCalls.Add(1)
		_, _ = w.Write([]byte(`{"content":"","timings":{"prompt_per_second":200.0,"predicted_per_second":20.0}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServerEngineAttach(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeLlamaServer(t, &calls)
	e := NewServer(ServerOptions{BaseURL: srv.URL, ReadyTimeout: 2 * time.Second}, zerolog.Nop())
	ctx := context.Background()

	if err := e.Generate(ctx, "hi", func(string) error { return nil }); !IsEngineError(err) {
		t.Fatalf("generate before load err=%v", err)
	}
	if err := e.Load(ctx, "/models/a.gguf"); err != nil {
		t.Fatalf("load: %v", err)
	}
	var got []string
	if err := e.Generate(ctx, "hi", func(f string) error { got = append(got, f); return nil }); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Join(got, "|") != "H|ello" {
		t.Fatalf("fragments=%v", got)
	}

	md, err := e.Bench(ctx, 512, 128, 2, 3)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if calls.Load() != 6 {
		t.Fatalf("bench requests=%d want 6", calls.Load())
	}
	if !strings.Contains(md, "pp 512 pl 2 | 200.00 ± 0.00") || !strings.Contains(md, "tg 128 pl 2 | 20.00 ± 0.00") {
		t.Fatalf("markdown:\n%s", md)
	}
	if err := e.Unload(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if _, err := e.Bench(ctx, 1, 1, 1, 1); !IsEngineError(err) {
		t.Fatalf("bench after unload err=%v", err)
	}
	e.client.CloseIdleConnections()
}

func TestServerEngineHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	e := NewServer(ServerOptions{BaseURL: srv.URL}, zerolog.Nop())
	defer e.client.CloseIdleConnections()
	if err := e.Load(context.Background(), "/m.gguf"); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := e.Generate(context.Background(), "x", func(string) error { return nil })
	if !IsEngineError(err) || !strings.Contains(err.Error(), "model exploded") {
		t.Fatalf("err=%v", err)
	}
}

func TestServerEngineMissingBinary(t *testing.T) {
	e := NewServer(ServerOptions{Bin: "definitely-not-a-llama-server-binary"}, zerolog.Nop())
	if err := e.Load(context.Background(), "/m.gguf"); !IsDependencyUnavailable(err) {
		t.Fatalf("err=%v", err)
	}
}
