package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	xhttp "Rewind/pkg/http"
	applogger "Rewind/pkg/logger"
)

// Shutdowner drains in-flight work, e.g. the orchestrator.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Worker is a background consumer with an explicit lifecycle, e.g. the job queue.
type Worker interface {
	Start() error
	Stop(ctx context.Context) error
}

// Closer is a named resource released last, in reverse registration order.
type Closer struct {
	Name string
	io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	logger          *applogger.Logger
	httpServer      *xhttp.Server
	runner          Shutdowner
	workers         []Worker
	closers         []Closer
	shutdownTimeout time.Duration
	signals         []os.Signal
}

// Option configures App.
type Option func(*App)

// WithWorker registers a background worker started before the HTTP server.
func WithWorker(w Worker) Option {
	return func(a *App) {
		if w != nil {
			a.workers = append(a.workers, w)
		}
	}
}

// WithCloser registers a resource closed during shutdown.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, Closer{Name: name, Closer: c})
		}
	}
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// New creates a new App instance with all dependencies.
func New(logger *applogger.Logger, httpServer *xhttp.Server, runner Shutdowner, opts ...Option) *App {
	if logger == nil {
		logger = applogger.Nop()
	}
	a := &App{
		logger:          logger,
		httpServer:      httpServer,
		runner:          runner,
		shutdownTimeout: 30 * time.Second,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), a.signals...)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts workers and the HTTP server, then blocks until ctx is
// done and shuts everything down.
func (a *App) RunContext(ctx context.Context) error {
	for _, w := range a.workers {
		if err := w.Start(); err != nil {
			a.logger.Error("worker start error", applogger.Error(err))
			return errors.Join(fmt.Errorf("start worker: %w", err), a.shutdown())
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			return errors.Join(err, a.shutdown())
		}
	}
	a.logger.Info("application started", applogger.Int("workers", len(a.workers)))

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then drains runs, then releases resources.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	for i := len(a.workers) - 1; i >= 0; i-- {
		if err := a.workers[i].Stop(ctx); err != nil {
			a.logger.Warn("worker stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			a.logger.Warn("orchestrator shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	// flush collected logs while the producer is still open
	a.logger.RemoveCollector()

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
