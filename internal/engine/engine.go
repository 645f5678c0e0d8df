package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Engine is the inference backend driven by the session controller.
type Engine interface {
	// Load makes the model at path the active model. path must name an
	// existing, readable file.
	Load(ctx context.Context, path string) error
	// Generate streams text fragments for prompt through onFragment in the
	// order the backend produces them. A non-nil error from onFragment stops
	// generation and is returned. Implementations must return once ctx is done.
	Generate(ctx context.Context, prompt string, onFragment func(string) error) error
	// Bench runs a prefill/generate benchmark and returns a printable summary.
	Bench(ctx context.Context, pp, tg, pl, nr int) (string, error)
	// Unload releases the active model. Unloading with nothing loaded is not an error.
	Unload() error
}

// Error is a failure reported by an engine. Message is shown to users verbatim.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// wrap converts err into an *Error for op unless it already is one or is a
// context error, which callers inspect with errors.Is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

// IsEngineError reports whether err carries an *Error.
func IsEngineError(err error) bool {
	var ee *Error
	return errors.As(err, &ee)
}

// dependencyUnavailableError signals a missing runtime (no llama build tag,
// llama-server binary not found).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependency-unavailable error.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// Options holds tunables shared by the engine implementations.
type Options struct {
	CtxSize   int
	Threads   int
	GPULayers int
	MaxTokens int
	Stop      []string
}

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return 256
}

// LlamaBuilt reports whether the in-process llama engine was compiled in.
func LlamaBuilt() bool { return llamaBuilt }

// New returns the engine named by kind ("llama" or "server").
func New(kind string, opts ServerOptions, logger zerolog.Logger) (Engine, error) {
	switch kind {
	case "", "llama":
		return NewLlama(opts.Options, logger), nil
	case "server":
		return NewServer(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}
}
