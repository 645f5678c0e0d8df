// Package session coordinates one local model's lifecycle for a chat client:
// acquiring the model file, loading it into an engine, streaming generated
// text into a transcript, running benchmarks and tearing the engine down.
//
// All failures end up as transcript text. Operations also return them so
// direct callers (the HTTP layer, the REPL) can react.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"llamachat/internal/acquire"
	"llamachat/internal/engine"
)

// DefaultBenchAbortThreshold is the warmup duration above which the full
// benchmark is skipped.
const DefaultBenchAbortThreshold = 5 * time.Second

// Parameters of the full benchmark run.
const (
	BenchPP = 512
	BenchTG = 128
	BenchPL = 1
	BenchNR = 3
)

// Resolver produces a local model file for a descriptor. *acquire.Acquirer
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, d acquire.Descriptor) (string, error)
}

// Config wires a Controller. Engine is required; the rest default.
type Config struct {
	Engine     engine.Engine
	Resolver   Resolver
	Publisher  EventPublisher
	Registerer prometheus.Registerer
	Logger     *zerolog.Logger
	// Now is the clock used to time the benchmark warmup.
	Now                 func() time.Time
	BenchAbortThreshold time.Duration
}

// Snapshot is a point-in-time copy of the session for renderers.
type Snapshot struct {
	SessionID string
	State     State
	ModelPath string
	Turns     []Turn
}

// op is the cancellable work item currently holding the session. done is
// only set for generations, which outlive the call that started them.
type op struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the session state machine. It owns the transcript and is the
// only caller of its engine.
type Controller struct {
	id         string
	eng        engine.Engine
	res        Resolver
	pub        EventPublisher
	bus        *Broadcaster
	metrics    *Metrics
	log        zerolog.Logger
	now        func() time.Time
	benchAbort time.Duration
	transcript *Transcript

	// engMu serialises engine calls. Lock order: engMu, then mu.
	engMu sync.Mutex

	mu        sync.Mutex
	state     State
	modelPath string
	epoch     uint64 // bumped by Load and Teardown
	tearing   int
	op        *op
}

// New constructs a Controller in the Unloaded state.
func New(cfg Config) (*Controller, error) {
	if cfg.Engine == nil {
		return nil, errors.New("session: engine is required")
	}
	c := &Controller{
		id:         uuid.NewString(),
		eng:        cfg.Engine,
		res:        cfg.Resolver,
		pub:        cfg.Publisher,
		bus:        NewBroadcaster(),
		metrics:    NewMetrics(cfg.Registerer),
		log:        zerolog.Nop(),
		now:        cfg.Now,
		benchAbort: cfg.BenchAbortThreshold,
		transcript: NewTranscript(),
		state:      Unloaded(),
	}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "session").Str("session", c.id).Logger()
	}
	if c.res == nil {
		c.res = acquire.New(acquire.Config{Logger: cfg.Logger})
	}
	if c.pub == nil {
		c.pub = noopPublisher{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.benchAbort <= 0 {
		c.benchAbort = DefaultBenchAbortThreshold
	}
	c.metrics.setState(KindUnloaded)
	return c, nil
}

// ID returns the session identifier carried by every event.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot copies the state and transcript. Turns never show a half-applied
// fragment.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	st, path := c.state, c.modelPath
	c.mu.Unlock()
	return Snapshot{SessionID: c.id, State: st, ModelPath: path, Turns: c.transcript.Snapshot()}
}

// Subscribe streams controller events until the returned func is called.
func (c *Controller) Subscribe(buf int) (<-chan Event, func()) { return c.bus.Subscribe(buf) }

// Load acquires d and makes it the engine's active model. It is accepted from
// Unloaded, Ready (the current model is unloaded first) and Error.
//
// An acquisition failure is recorded and leaves the session Unloaded, or Ready
// when a model was already loaded. An engine failure is recorded verbatim and
// moves the session to Error.
func (c *Controller) Load(ctx context.Context, d acquire.Descriptor) error {
	c.mu.Lock()
	if err := c.acceptLoadLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	prev, prevPath := c.state, c.modelPath
	c.epoch++
	epoch := c.epoch
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o := &op{cancel: cancel}
	c.op = o
	c.setStateLocked(Loading(d))
	c.mu.Unlock()

	path, err := c.res.Resolve(ctx, d)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch != epoch {
			return errSuperseded
		}
		c.op = nil
		c.record("acquire", err)
		if prev.Kind == KindReady {
			c.setStateLocked(Ready())
		} else {
			c.setStateLocked(Unloaded())
		}
		return err
	}

	c.engMu.Lock()
	defer c.engMu.Unlock()
	if !c.isEpoch(epoch) {
		return errSuperseded
	}
	if prevPath != "" {
		if uerr := c.unloadEngine(); uerr != nil {
			c.record("unload", uerr)
		}
	}
	lerr := c.eng.Load(ctx, path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return errSuperseded
	}
	c.op = nil
	if lerr != nil {
		c.modelPath = ""
		c.record("load", lerr)
		c.setStateLocked(Failed(lerr))
		return lerr
	}
	c.modelPath = path
	c.appendTurn(OriginSystem, "Loaded "+path)
	c.setStateLocked(Ready())
	c.log.Info().Str("model", d.Name).Str("path", path).Msg("model loaded")
	return nil
}

func (c *Controller) acceptLoadLocked() error {
	if c.tearing > 0 {
		return &BusyError{State: c.state.Kind, Op: "teardown"}
	}
	switch c.state.Kind {
	case KindLoading, KindGenerating, KindBenchmarking:
		return &BusyError{State: c.state.Kind}
	}
	return nil
}

// Submit appends text as a User turn followed by an empty Assistant turn and
// starts generating into it. Blank text is ignored. Submit returns as soon as
// generation has started; use Wait or Subscribe to follow it.
func (c *Controller) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Kind {
	case KindReady:
	case KindGenerating, KindBenchmarking, KindLoading:
		return &BusyError{State: c.state.Kind}
	default:
		return notReady(c.state.Kind)
	}
	c.appendTurn(OriginUser, text)
	turn, err := c.transcript.OpenAssistant()
	if err != nil {
		return err
	}
	c.publish(EventTurn, map[string]any{"position": turn.Position, "origin": turn.Origin.String(), "open": true})

	ctx, cancel := context.WithCancel(context.Background())
	o := &op{cancel: cancel, done: make(chan struct{})}
	c.op = o
	c.setStateLocked(Generating(turn.Position))
	go c.generate(ctx, o, turn.Position, text)
	return nil
}

func (c *Controller) generate(ctx context.Context, o *op, pos int64, prompt string) {
	defer close(o.done)
	defer o.cancel()

	c.engMu.Lock()
	s := engine.Start(ctx, c.eng, prompt)
	outcome, err := Consume(s, c.transcript, func(frag string) {
		c.metrics.fragment()
		c.publish(EventFragment, map[string]any{"position": pos, "text": frag})
	})
	c.engMu.Unlock()

	c.metrics.generation(outcome)
	if err != nil {
		c.metrics.failure("generate")
		c.log.Warn().Err(err).Int64("position", pos).Msg("generation failed")
	}

	// The session is Ready again before subscribers see the turn close.
	c.mu.Lock()
	if c.op == o {
		c.op = nil
	}
	if c.state.Kind == KindGenerating && c.state.Position == pos {
		c.setStateLocked(Ready())
	}
	c.mu.Unlock()
	c.publish(EventClosed, map[string]any{"position": pos, "outcome": outcome.String()})
}

// Cancel stops the in-flight generation or benchmark. A cancelled generation
// keeps its partial text. It reports whether anything was cancelled.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op == nil {
		return false
	}
	switch c.state.Kind {
	case KindGenerating, KindBenchmarking:
		c.op.cancel()
		return true
	}
	return false
}

// Wait blocks until no generation is in flight.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	var done chan struct{}
	if c.op != nil {
		done = c.op.done
	}
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bench runs a warmup benchmark with the given parameters, timed with the
// controller clock. When the warmup exceeds the abort threshold the full run
// is skipped; otherwise the full benchmark runs once with fixed parameters.
// Engine failures are recorded and the session returns to Ready.
func (c *Controller) Bench(ctx context.Context, pp, tg, pl, nr int) error {
	if nr <= 0 {
		nr = 1
	}
	c.mu.Lock()
	switch c.state.Kind {
	case KindReady:
	case KindGenerating, KindBenchmarking, KindLoading:
		k := c.state.Kind
		c.mu.Unlock()
		return &BusyError{State: k}
	default:
		k := c.state.Kind
		c.mu.Unlock()
		return notReady(k)
	}
	epoch := c.epoch
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o := &op{cancel: cancel}
	c.op = o
	c.setStateLocked(Benchmarking())
	c.mu.Unlock()

	c.engMu.Lock()
	err := c.runBench(ctx, pp, tg, pl, nr)
	c.engMu.Unlock()

	c.mu.Lock()
	if c.op == o {
		c.op = nil
	}
	if c.epoch == epoch && c.state.Kind == KindBenchmarking {
		c.setStateLocked(Ready())
	}
	c.mu.Unlock()
	return err
}

func (c *Controller) runBench(ctx context.Context, pp, tg, pl, nr int) error {
	start := c.now()
	warm, err := c.eng.Bench(ctx, pp, tg, pl, nr)
	elapsed := c.now().Sub(start)
	c.metrics.bench("warmup", elapsed.Seconds())
	if err != nil {
		return c.benchFailed(err)
	}
	c.appendTurn(OriginSystem, warm)
	c.appendTurn(OriginSystem, fmt.Sprintf("Warm up time: %.2f seconds, please wait...", elapsed.Seconds()))
	if elapsed > c.benchAbort {
		c.appendTurn(OriginSystem, "Warm up took too long, aborting benchmark")
		c.log.Info().Dur("warmup", elapsed).Msg("benchmark aborted")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start = c.now()
	res, err := c.eng.Bench(ctx, BenchPP, BenchTG, BenchPL, BenchNR)
	c.metrics.bench("full", c.now().Sub(start).Seconds())
	if err != nil {
		return c.benchFailed(err)
	}
	c.appendTurn(OriginSystem, res)
	return nil
}

func (c *Controller) benchFailed(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.record("bench", err)
	return err
}

// Teardown cancels any in-flight work, calls the engine's Unload exactly once
// and leaves the session Unloaded. An unload failure becomes one transcript
// entry; Teardown itself never fails.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.tearing++
	c.epoch++
	var done chan struct{}
	if c.op != nil {
		c.op.cancel()
		done = c.op.done
		c.op = nil
	}
	c.setStateLocked(Unloaded())
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	c.engMu.Lock()
	err := c.unloadEngine()
	c.engMu.Unlock()

	c.mu.Lock()
	c.modelPath = ""
	c.tearing--
	c.mu.Unlock()

	if err != nil {
		c.record("unload", err)
		return
	}
	c.log.Info().Msg("engine unloaded")
}

// unloadEngine calls Unload, converting a panic into an error. Caller holds engMu.
func (c *Controller) unloadEngine() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unload panicked: %v", r)
		}
	}()
	return c.eng.Unload()
}

// Note appends a system note to the transcript. It is refused while a
// generation is streaming, since the open Assistant turn must stay last.
func (c *Controller) Note(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind == KindGenerating {
		return &BusyError{State: c.state.Kind}
	}
	c.appendTurn(OriginSystem, text)
	return nil
}

// Clear empties the transcript. It is refused while a turn is open.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind == KindGenerating {
		return &BusyError{State: c.state.Kind}
	}
	if err := c.transcript.Clear(); err != nil {
		return &BusyError{State: c.state.Kind}
	}
	c.publish(EventCleared, nil)
	return nil
}

func (c *Controller) isEpoch(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// record appends err as a system turn and counts it.
func (c *Controller) record(kind string, err error) {
	c.metrics.failure(kind)
	c.log.Warn().Err(err).Str("op", kind).Msg("failure recorded")
	c.appendTurn(OriginSystem, err.Error())
}

func (c *Controller) appendTurn(origin Origin, text string) {
	turn := c.transcript.Append(origin, text)
	c.publish(EventTurn, map[string]any{"position": turn.Position, "origin": origin.String(), "text": text})
}

// setStateLocked must be called with mu held.
func (c *Controller) setStateLocked(s State) {
	from := c.state
	c.state = s
	c.metrics.setState(s.Kind)
	c.log.Debug().Str("from", from.String()).Str("to", s.String()).Msg("state")
	c.publish(EventState, map[string]any{"state": s.Kind.String(), "detail": s.String()})
}

func (c *Controller) publish(name string, fields map[string]any) {
	e := Event{Name: name, SessionID: c.id, Fields: fields}
	c.pub.Publish(e)
	c.bus.Publish(e)
}
