package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"llamachat/internal/acquire"
	"llamachat/internal/httpapi"
	"llamachat/internal/registry"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the chat session over HTTP",
		Example: "  llamachat serve --addr :8080 --models-dir ~/models\n  llamachat serve --engine server --llama-bin /opt/llama.cpp/llama-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, nil, prometheus.DefaultRegisterer)
		},
	}
	cmd.Flags().StringVar(&a.flags.Addr, "addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&a.flags.DefaultModel, "default-model", "", "Model to load at startup")
	cmd.Flags().BoolVar(&a.flags.CORSEnabled, "cors", false, "Enable CORS")
	cmd.Flags().StringSliceVar(&a.flags.CORSOrigins, "cors-origins", nil, "Allowed CORS origins (default *)")
	return cmd
}

// serve runs the HTTP API and the source watcher until ctx is done, then
// shuts the server down and tears the session down. When ln is nil it
// listens on the configured address. Session metrics register on reg.
func (a *app) serve(ctx context.Context, ln net.Listener, reg prometheus.Registerer) error {
	store, res, cat, err := a.openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := a.newEngine()
	if err != nil {
		return err
	}
	ctrl, err := a.newController(eng, reg)
	if err != nil {
		return err
	}
	defer ctrl.Teardown()

	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(a.cfg.CORSEnabled, a.cfg.CORSOrigins, nil, nil)

	if name := a.cfg.DefaultModel; name != "" {
		if d, err := cat.Lookup(name); err != nil {
			a.log.Warn().Err(err).Str("model", name).Msg("default model unavailable")
		} else if err := ctrl.Load(ctx, d); err != nil {
			a.log.Warn().Err(err).Str("model", name).Msg("default model failed to load")
		}
	}

	if ln == nil {
		if ln, err = net.Listen("tcp", a.cfg.Addr); err != nil {
			return err
		}
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(ctrl, cat),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", ln.Addr().String()).Str("engine", a.cfg.Engine).Str("session", ctrl.ID()).Msg("llamachat listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn().Err(err).Msg("graceful shutdown")
		}
		return nil
	})
	g.Go(func() error {
		a.watchSource(gctx, res, cat)
		return nil
	})
	return g.Wait()
}

// watchSource logs the model list whenever the source folder changes. A
// source that cannot be watched is logged and ignored.
func (a *app) watchSource(ctx context.Context, res *registry.DirResolver, cat *registry.Catalog) {
	src, err := cat.Source()
	if err != nil || src == "" {
		return
	}
	err = res.Watch(ctx, src, registry.DefaultDebounce, func(ds []acquire.Descriptor, err error) {
		if err != nil {
			a.log.Warn().Err(err).Str("source", src).Msg("rescan failed")
			return
		}
		a.log.Info().Str("source", src).Int("models", len(ds)).Msg("model source changed")
	})
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, registry.ErrNotWatchable):
		a.log.Debug().Str("source", src).Msg("source not watched")
	default:
		a.log.Warn().Err(err).Str("source", src).Msg("source watch stopped")
	}
}
