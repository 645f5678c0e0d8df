package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ServerOptions configures the llama-server backed engine.
type ServerOptions struct {
	Options
	// Bin is the llama-server executable. Ignored when BaseURL is set.
	Bin  string
	Host string
	// BaseURL attaches to an already running server instead of spawning one.
	BaseURL      string
	ReadyTimeout time.Duration
	ExtraArgs    []string
}

// ServerEngine drives a llama.cpp server over HTTP. In spawn mode it owns one
// llama-server process per loaded model.
type ServerEngine struct {
	opts   ServerOptions
	log    zerolog.Logger
	client *http.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan error
	stderr  *tailBuffer
	baseURL string
	path    string
}

// NewServer constructs a server engine. Nothing is started until Load.
func NewServer(opts ServerOptions, logger zerolog.Logger) *ServerEngine {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &ServerEngine{
		opts:   opts,
		log:    logger.With().Str("engine", "server").Logger(),
		client: &http.Client{Transport: tr, Timeout: 0},
	}
}

func (e *ServerEngine) Load(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return &Error{Op: "load", Message: "model path is empty"}
	}
	if base := strings.TrimRight(strings.TrimSpace(e.opts.BaseURL), "/"); base != "" {
		if err := e.waitReady(ctx, base, nil); err != nil {
			return wrap("load", err)
		}
		e.mu.Lock()
		e.baseURL, e.path = base, path
		e.mu.Unlock()
		e.log.Info().Str("url", base).Str("path", path).Msg("attached to llama-server")
		return nil
	}

	bin, err := exec.LookPath(e.opts.Bin)
	if err != nil {
		return ErrDependencyUnavailable(fmt.Sprintf("llama-server binary %q not found", e.opts.Bin))
	}
	_ = e.stop()

	port, err := pickFreePort(e.opts.Host)
	if err != nil {
		return wrap("load", err)
	}
	base := fmt.Sprintf("http://%s:%d", e.opts.Host, port)
	args := []string{"-m", path, "--host", e.opts.Host, "--port", strconv.Itoa(port)}
	if e.opts.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(e.opts.CtxSize))
	}
	if e.opts.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(e.opts.GPULayers))
	}
	if e.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.opts.Threads))
	}
	args = append(args, e.opts.ExtraArgs...)

	cmd := exec.Command(bin, args...)
	tail := &tailBuffer{max: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return wrap("load", fmt.Errorf("start llama-server: %w", err))
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	e.log.Info().Str("path", path).Int("pid", cmd.Process.Pid).Int("port", port).Msg("llama-server started")

	if err := e.waitReady(ctx, base, exited); err != nil {
		_ = cmd.Process.Kill()
		if t := tail.String(); t != "" {
			err = fmt.Errorf("%w; stderr tail: %s", err, t)
		}
		return wrap("load", err)
	}
	e.mu.Lock()
	e.cmd, e.exited, e.stderr = cmd, exited, tail
	e.baseURL, e.path = base, path
	e.mu.Unlock()
	e.log.Info().Str("url", base).Msg("llama-server ready")
	return nil
}

// waitReady polls /health until it answers 2xx, the process exits, ctx ends
// or ReadyTimeout elapses.
func (e *ServerEngine) waitReady(ctx context.Context, base string, exited <-chan error) error {
	deadline := time.Now().Add(e.opts.ReadyTimeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("llama-server not ready in time: %s", base)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case werr := <-exited:
			if werr != nil {
				return fmt.Errorf("llama-server exited early: %v", werr)
			}
			return fmt.Errorf("llama-server exited before ready: %s", base)
		default:
		}
		if e.healthy(ctx, base) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *ServerEngine) healthy(ctx context.Context, base string) bool {
	hctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Prompt    string   `json:"prompt"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	Stop      []string `json:"stop,omitempty"`
	Stream    bool     `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (e *ServerEngine) Generate(ctx context.Context, prompt string, onFragment func(string) error) error {
	base, _ := e.target()
	if base == "" {
		return &Error{Op: "generate", Message: "no model loaded"}
	}
	body, _ := json.Marshal(completionRequest{
		Prompt:    prompt,
		MaxTokens: e.opts.maxTokens(),
		Stop:      e.opts.Stop,
		Stream:    true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return wrap("generate", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrap("generate", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Op: "generate", Message: fmt.Sprintf("llama-server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))}
	}
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				return nil
			}
			var chunk completionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err == nil && len(chunk.Choices) > 0 {
				frag := chunk.Choices[0].Text
				if frag == "" {
					frag = chunk.Choices[0].Delta.Content
				}
				if frag != "" {
					if err := onFragment(frag); err != nil {
						return err
					}
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return wrap("generate", rerr)
		}
	}
}

type benchRequest struct {
	Prompt      string `json:"prompt"`
	NPredict    int    `json:"n_predict"`
	CachePrompt bool   `json:"cache_prompt"`
	IgnoreEOS   bool   `json:"ignore_eos"`
}

type benchResponse struct {
	Timings struct {
		PromptPerSecond    float64 `json:"prompt_per_second"`
		PredictedPerSecond float64 `json:"predicted_per_second"`
	} `json:"timings"`
}

// Bench issues pl concurrent /completion requests per repetition and reports
// the server's own prompt and predicted token rates.
func (e *ServerEngine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	base, path := e.target()
	if base == "" {
		return "", &Error{Op: "bench", Message: "no model loaded"}
	}
	pp, tg, pl, nr = normalizeBench(pp, tg, pl, nr)
	res := newBenchResult(path, "llama-server", pp, tg, pl)
	body, _ := json.Marshal(benchRequest{Prompt: benchPrompt(max(pp, 1)), NPredict: tg, IgnoreEOS: true})

	for i := 0; i < nr; i++ {
		timings := make([]benchResponse, pl)
		g, gctx := errgroup.WithContext(ctx)
		for j := 0; j < pl; j++ {
			j := j
			g.Go(func() error {
				return e.postJSON(gctx, base+"/completion", body, &timings[j])
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", wrap("bench", err)
		}
		for _, t := range timings {
			if pp > 0 {
				res.PPRates = append(res.PPRates, t.Timings.PromptPerSecond)
			}
			if tg > 0 {
				res.TGRates = append(res.TGRates, t.Timings.PredictedPerSecond)
			}
		}
	}
	return res.Markdown(), nil
}

func (e *ServerEngine) postJSON(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llama-server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Unload stops the spawned process (SIGTERM, then kill after 2s). In attach
// mode it only forgets the model.
func (e *ServerEngine) Unload() error {
	return e.stop()
}

func (e *ServerEngine) stop() error {
	e.mu.Lock()
	cmd, exited, path := e.cmd, e.exited, e.path
	e.cmd, e.exited, e.stderr = nil, nil, nil
	e.baseURL, e.path = "", ""
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return &Error{Op: "unload", Message: fmt.Sprintf("kill llama-server: %v", err), Err: err}
		}
		<-exited
	}
	e.log.Info().Str("path", path).Int("pid", cmd.Process.Pid).Msg("llama-server stopped")
	return nil
}

func (e *ServerEngine) target() (base, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseURL, e.path
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
