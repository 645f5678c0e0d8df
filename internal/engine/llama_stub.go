//go:build !llama

package engine

// This file provides a no-CGO stub for the llama engine. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.
// The real engine lives in llama.go (tagged 'llama').

import (
	"context"

	"github.com/rs/zerolog"
)

var llamaBuilt = false

// LlamaEngine is a stub that satisfies Engine but refuses to load models
// without the 'llama' build tag.
type LlamaEngine struct {
	opts Options
	log  zerolog.Logger
}

func NewLlama(opts Options, logger zerolog.Logger) *LlamaEngine {
	return &LlamaEngine{opts: opts, log: logger}
}

func (e *LlamaEngine) Load(ctx context.Context, path string) error {
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *LlamaEngine) Generate(ctx context.Context, prompt string, onFragment func(string) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *LlamaEngine) Bench(ctx context.Context, pp, tg, pl, nr int) (string, error) {
	return "", ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

// Unload has nothing to free in the stub.
func (e *LlamaEngine) Unload() error { return nil }
