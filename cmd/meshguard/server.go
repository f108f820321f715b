package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lessucettes/meshguard/internal/config"
)

// newLogWriter returns stderr, or a rotating file when log.file is set.
func newLogWriter(cfg *config.LogConfig) io.WriteCloser {
	if cfg.File == "" {
		return nopCloser{os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newRouter serves /metrics and /healthz. Health fails until a pipeline is installed.
func (a *app) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", a.collector.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.current() == nil {
			http.Error(w, "pipeline not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (a *app) serveHTTP(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: a.newRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
