package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CoinFlow/internal/handler/api"
	"CoinFlow/internal/usecase"
	"CoinFlow/pkg/config"
	xhttp "CoinFlow/pkg/http"
	applogger "CoinFlow/pkg/logger"
)

// App encapsulates the pipeline service lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	pipeline *usecase.Pipeline
	srv      *xhttp.Server
	feed     *api.LiveFeed
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	pipeline *usecase.Pipeline,
	srv *xhttp.Server,
	feed *api.LiveFeed,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, pipeline: pipeline, srv: srv, feed: feed}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.pipeline.Start(ctx); err != nil {
		a.log.Error("pipeline start error", applogger.Error(err))
		return err
	}
	a.log.Info("pipeline started",
		applogger.String("topic", a.cfg.Kafka.Topic),
		applogger.String("sink", a.cfg.Sink.Backend),
		applogger.Int("window", a.cfg.Window.Size),
	)

	if err := a.srv.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return errors.Join(err, a.shutdown())
	}
	a.log.Info("http server listening", applogger.String("addr", a.srv.Addr()))

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first so the drain sees every accepted observation.
func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.srv.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.feed != nil {
		a.feed.Close()
	}
	if err := a.pipeline.Shutdown(ctx); err != nil {
		a.log.Error("pipeline shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	a.log.Info("shutdown complete")
	a.log.RemoveCollector()
	return errors.Join(errs...)
}
