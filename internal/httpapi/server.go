package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llamachat/internal/acquire"
	"llamachat/internal/common/fsutil"
	"llamachat/internal/session"
	"llamachat/pkg/types"
)

// Session is the part of the session controller driven over HTTP.
type Session interface {
	Snapshot() session.Snapshot
	Load(ctx context.Context, d acquire.Descriptor) error
	Submit(text string) error
	Cancel() bool
	Bench(ctx context.Context, pp, tg, pl, nr int) error
	Clear() error
	Teardown()
	Subscribe(buf int) (<-chan session.Event, func())
}

// Catalog lists the models of the persisted source and changes it.
type Catalog interface {
	Source() (string, error)
	SetSource(src string) ([]acquire.Descriptor, error)
	Models() ([]acquire.Descriptor, error)
	Lookup(name string) (acquire.Descriptor, error)
}

// Default warmup parameters for POST /bench.
const (
	defaultBenchPP = 8
	defaultBenchTG = 4
	defaultBenchPL = 1
	defaultBenchNR = 1
)

type server struct {
	sess Session
	cat  Catalog
}

func NewMux(sess Session, cat Catalog) http.Handler {
	s := &server{sess: sess, cat: cat}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if c := corsMiddleware(); c != nil {
		r.Use(c)
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/status", s.handleStatus)
	r.Get("/transcript", s.handleTranscript)
	r.Get("/models", s.handleModels)
	r.Get("/source", s.handleGetSource)
	r.Put("/source", s.handlePutSource)
	r.Post("/load", s.handleLoad)
	r.Post("/submit", s.handleSubmit)
	r.Post("/cancel", s.handleCancel)
	r.Post("/bench", s.handleBench)
	r.Post("/clear", s.handleClear)
	r.Post("/teardown", s.handleTeardown)
	r.Get("/events", s.handleEvents)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		switch sess.Snapshot().State.Kind {
		case session.KindReady, session.KindGenerating, session.KindBenchmarking:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
		}
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// handleStatus godoc
// @Summary Session status
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *server) status() types.StatusResponse {
	snap := s.sess.Snapshot()
	st := types.StatusResponse{
		SessionID: snap.SessionID,
		State:     snap.State.Kind.String(),
		Detail:    snap.State.String(),
		ModelPath: snap.ModelPath,
		Turns:     len(snap.Turns),
	}
	if snap.State.Kind == session.KindError && snap.State.Cause != nil {
		st.Error = snap.State.Cause.Error()
	}
	if src, err := s.cat.Source(); err == nil {
		st.Source = src
	}
	return st
}

// handleTranscript godoc
// @Summary Chat transcript
// @Produce json
// @Success 200 {object} types.TranscriptResponse
// @Router /transcript [get]
func (s *server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.TranscriptResponse{Turns: TurnViews(s.sess.Snapshot().Turns)})
}

// handleModels godoc
// @Summary Models in the current source
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	ds, err := s.cat.Models()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: ModelViews(ds)})
}

func (s *server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.cat.Source()
	if err != nil {
		writeError(w, err)
		return
	}
	ds, err := s.cat.Models()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SourceResponse{Source: src, Models: ModelViews(ds)})
}

// handlePutSource godoc
// @Summary Change and persist the model source
// @Accept json
// @Produce json
// @Param request body types.SourceRequest true "source"
// @Success 200 {object} types.SourceResponse
// @Failure 400 {object} types.ErrorResponse
// @Router /source [put]
func (s *server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	var req types.SourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeJSONError(w, http.StatusBadRequest, "source is required")
		return
	}
	start := time.Now()
	ds, err := s.cat.SetSource(req.Source)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		logOp(r, "source", http.StatusBadRequest, start, err)
		return
	}
	logOp(r, "source", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, types.SourceResponse{Source: strings.TrimSpace(req.Source), Models: ModelViews(ds)})
}

// handleLoad godoc
// @Summary Acquire and load a model
// @Accept json
// @Produce json
// @Param request body types.LoadRequest true "model name or local path"
// @Success 200 {object} types.StatusResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 422 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Router /load [post]
func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := time.Now()
	var d acquire.Descriptor
	switch {
	case strings.TrimSpace(req.Model) != "":
		var err error
		if d, err = s.cat.Lookup(strings.TrimSpace(req.Model)); err != nil {
			logOp(r, "load", writeError(w, err), start, err)
			return
		}
	case strings.TrimSpace(req.Path) != "":
		p, err := fsutil.ExpandHome(strings.TrimSpace(req.Path))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		d = acquire.Descriptor{Name: filepath.Base(p), LocalPath: p}
	default:
		writeJSONError(w, http.StatusBadRequest, "model or path is required")
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := s.sess.Load(ctx, d); err != nil {
		logOp(r, "load", writeError(w, err), start, err)
		return
	}
	logOp(r, "load", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, s.status())
}

// handleSubmit godoc
// @Summary Send a chat message
// @Description Generation runs in the background; follow it via /events or /transcript.
// @Accept json
// @Produce json
// @Param request body types.SubmitRequest true "message"
// @Success 202 {object} types.StatusResponse
// @Failure 409 {object} types.ErrorResponse
// @Router /submit [post]
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	start := time.Now()
	if err := s.sess.Submit(req.Text); err != nil {
		logOp(r, "submit", writeError(w, err), start, err)
		return
	}
	logOp(r, "submit", http.StatusAccepted, start, nil)
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.CancelResponse{Cancelled: s.sess.Cancel()})
}

// handleBench godoc
// @Summary Run a warmup benchmark and, if fast enough, the full benchmark
// @Accept json
// @Produce json
// @Param request body types.BenchRequest false "warmup parameters"
// @Success 200 {object} types.TranscriptResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Router /bench [post]
func (s *server) handleBench(w http.ResponseWriter, r *http.Request) {
	req := types.BenchRequest{}
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.PP <= 0 {
		req.PP = defaultBenchPP
	}
	if req.TG <= 0 {
		req.TG = defaultBenchTG
	}
	if req.PL <= 0 {
		req.PL = defaultBenchPL
	}
	if req.NR <= 0 {
		req.NR = defaultBenchNR
	}
	last := int64(-1)
	if turns := s.sess.Snapshot().Turns; len(turns) > 0 {
		last = turns[len(turns)-1].Position
	}
	start := time.Now()
	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := s.sess.Bench(ctx, req.PP, req.TG, req.PL, req.NR); err != nil {
		logOp(r, "bench", writeError(w, err), start, err)
		return
	}
	var added []session.Turn
	for _, t := range s.sess.Snapshot().Turns {
		if t.Position > last {
			added = append(added, t)
		}
	}
	logOp(r, "bench", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, types.TranscriptResponse{Turns: TurnViews(added)})
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Clear(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.sess.Teardown()
	logOp(r, "teardown", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, s.status())
}

// handleEvents godoc
// @Summary Stream session events as NDJSON
// @Produce application/x-ndjson
// @Success 200 {object} types.Event
// @Router /events [get]
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if requestLogLevel(r) >= LevelDebug {
		writer = io.MultiWriter(w, &eventTap{})
	}
	// Join server base context with request context so shutdown ends the stream too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	events, unsubscribe := s.sess.Subscribe(256)
	defer unsubscribe()
	eventStreams.Inc()
	defer eventStreams.Dec()
	w.WriteHeader(http.StatusOK)
	if flush != nil {
		flush()
	}
	enc := json.NewEncoder(writer)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(types.Event{Name: e.Name, Fields: e.Fields}); err != nil {
				return
			}
			eventsSent.Inc()
			if flush != nil {
				flush()
			}
		}
	}
}

// opContext joins the server base context with the request and applies the
// configured load/bench timeout.
func (s *server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	joined, cancelJoin := joinContexts(serverBaseCtx, r.Context())
	d := opTimeoutDuration()
	if d <= 0 {
		return joined, cancelJoin
	}
	ctx, cancel := context.WithTimeout(joined, d)
	return ctx, func() {
		cancel()
		cancelJoin()
	}
}

// decodeJSON enforces the JSON content type and body limit. It writes the
// error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logOp logs the end of a mutating request at the request's log level.
func logOp(r *http.Request, op string, status int, start time.Time, err error) {
	lvl := requestLogLevel(r)
	if lvl < LevelInfo && !(lvl >= LevelError && err != nil) {
		return
	}
	if zlog != nil {
		z := zlog.Info()
		if err != nil {
			z = zlog.Warn().Err(err)
		}
		z = z.Str("op", op).Int("status", status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("request end")
		return
	}
	if err != nil {
		log.Printf("%s end status=%d dur=%s err=%v", op, status, time.Since(start), err)
		return
	}
	log.Printf("%s end status=%d dur=%s", op, status, time.Since(start))
}

// TurnViews converts turns to their wire form.
func TurnViews(turns []session.Turn) []types.Turn {
	out := make([]types.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, types.Turn{Position: t.Position, Origin: t.Origin.String(), Text: t.Text, Open: t.Open})
	}
	return out
}

// ModelViews converts descriptors to their wire form.
func ModelViews(ds []acquire.Descriptor) []types.Model {
	out := make([]types.Model, 0, len(ds))
	for _, d := range ds {
		out = append(out, types.Model{
			Name:      d.Name,
			Source:    d.Source.Ref,
			LocalPath: d.LocalPath,
			Resident:  fsutil.NonEmptyFile(d.LocalPath),
		})
	}
	return out
}
