package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "CoinFlow/internal/middleware"
	"CoinFlow/internal/usecase"
	"CoinFlow/pkg/config"
	xhttp "CoinFlow/pkg/http"
	applogger "CoinFlow/pkg/logger"
)

// PublisherApp polls the market API and feeds observations to Kafka.
type PublisherApp struct {
	cfg    *config.Config
	log    *applogger.Logger
	poller *usecase.MarketPoller
	pipe   *mid.RealtimePipeline
	srv    *xhttp.Server
}

func NewPublisherApp(
	cfg *config.Config,
	l *applogger.Logger,
	poller *usecase.MarketPoller,
	pipe *mid.RealtimePipeline,
	srv *xhttp.Server,
) *PublisherApp {
	if l == nil {
		l = applogger.Nop()
	}
	return &PublisherApp{cfg: cfg, log: l, poller: poller, pipe: pipe, srv: srv}
}

// Run blocks until SIGINT or SIGTERM.
func (a *PublisherApp) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.pipe.Start(ctx)
	a.poller.Start(ctx)
	a.log.Info("publisher started",
		applogger.Strings("symbols", a.cfg.Publisher.Symbols),
		applogger.Duration("interval", a.cfg.Publisher.Interval),
	)

	if err := a.srv.Start(); err != nil {
		a.log.Error("metrics server start error", applogger.Error(err))
		a.poller.Stop()
		a.pipe.Stop()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	a.poller.Stop()
	a.pipe.Stop()
	if n := a.pipe.Buffered(); n > 0 {
		a.log.Warn("observations left in buffer", applogger.Int("count", n))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.srv.Stop(sctx); err != nil {
		a.log.Error("metrics server shutdown error", applogger.Error(err))
		return err
	}
	a.log.RemoveCollector()
	return nil
}
