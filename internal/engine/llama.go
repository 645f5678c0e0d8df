//go:build llama

package engine

import (
	"context"
	"strings"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// LlamaEngine runs a GGUF model in-process through go-llama.cpp.
type LlamaEngine struct {
	opts  Options
	log   zerolog.Logger
	model *llama.LLama
	path  string
}

// NewLlama returns an in-process engine. Nothing is loaded until Load.
func NewLlama(opts Options, logger zerolog.Logger) *LlamaEngine {
	return &LlamaEngine{opts: opts, log: logger.With().Str("engine", "llama").Logger()}
}

func (e *LlamaEngine) Load(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return &Error{Op: "load", Message: "model path is empty"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	mo := []llama.ModelOption{
		llama.SetContext(max(1, e.opts.CtxSize)),
	}
	if e.opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(e.opts.GPULayers))
	}
	start := time.Now()
	m, err := llama.New(path, mo...)
	if err != nil {
		return wrap("load", err)
	}
	e.model = m
	e.path = path
	e.log.Info().Str("path", path).Dur("dur", time.Since(start)).Msg("model loaded")
	return nil
}

func (e *LlamaEngine) Generate(ctx context.Context, prompt string, onFragment func(string) error) error {
	if e.model == nil {
		return &Error{Op: "generate", Message: "no model loaded"}
	}
	var cbErr error
	e.model.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := onFragment(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	defer e.model.SetTokenCallback(nil)

	_, err := e.model.Predict(prompt, e.predictOptions(e.opts.maxTokens())...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cbErr != nil {
		return cbErr
	}
	return wrap("generate", err)
}

func (e *LlamaEngine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	if e.model == nil {
		return "", &Error{Op: "bench", Message: "no model loaded"}
	}
	pp, tg, pl, nr = normalizeBench(pp, tg, pl, nr)
	res := newBenchResult(e.path, "CPU", pp, tg, pl)
	for i := 0; i < nr; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if pp > 0 {
			start := time.Now()
			if _, err := e.model.Predict(benchPrompt(pp), e.predictOptions(1)...); err != nil {
				return "", wrap("bench", err)
			}
			res.PPRates = append(res.PPRates, rate(pp, time.Since(start)))
		}
		if tg > 0 {
			n := 0
			e.model.SetTokenCallback(func(string) bool {
				n++
				return ctx.Err() == nil
			})
			start := time.Now()
			_, err := e.model.Predict(benchPrompt(1), e.predictOptions(tg)...)
			e.model.SetTokenCallback(nil)
			if err != nil {
				return "", wrap("bench", err)
			}
			res.TGRates = append(res.TGRates, rate(n, time.Since(start)))
		}
	}
	return res.Markdown(), nil
}

func (e *LlamaEngine) Unload() error {
	if e.model == nil {
		return nil
	}
	e.model.Free()
	e.model = nil
	e.log.Info().Str("path", e.path).Msg("model unloaded")
	e.path = ""
	return nil
}

func (e *LlamaEngine) predictOptions(tokens int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, tokens)),
		llama.SetThreads(max(1, e.opts.Threads)),
		llama.SetTopP(llama.DefaultOptions.TopP),
		llama.SetTopK(llama.DefaultOptions.TopK),
		llama.SetTemperature(llama.DefaultOptions.Temperature),
		llama.SetPenalty(llama.DefaultOptions.Penalty),
	}
	if len(e.opts.Stop) > 0 {
		po = append(po, llama.SetStopWords(e.opts.Stop...))
	}
	return po
}

func rate(tokens int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(tokens) / d.Seconds()
}
