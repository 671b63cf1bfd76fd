package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CoinFlow/internal/codec"
	"CoinFlow/internal/domain/models"
	domrepo "CoinFlow/internal/domain/repository"
	mid "CoinFlow/internal/middleware"
	"CoinFlow/pkg/logger"
)

// ObservationPublisher encodes observations and publishes them keyed by
// coin name.
type ObservationPublisher struct {
	pub     domrepo.Publisher
	metrics domrepo.Metrics
}

func NewObservationPublisher(pub domrepo.Publisher, metrics domrepo.Metrics) *ObservationPublisher {
	return &ObservationPublisher{pub: pub, metrics: metrics}
}

func (p *ObservationPublisher) Process(ctx context.Context, o *models.Observation) error {
	b, err := codec.Encode(o)
	if err != nil {
		return fmt.Errorf("encode %s: %w", o.Key, err)
	}
	if err := p.pub.Publish(ctx, o.Key, b); err != nil {
		return fmt.Errorf("publish %s: %w", o.Key, err)
	}
	if p.metrics != nil {
		p.metrics.RecordObservation(o.Key)
		p.metrics.RecordLastPrice(o.Key, o.Price)
	}
	return nil
}

func (p *ObservationPublisher) Close() error { return p.pub.Close() }

// MarketPoller fetches every configured asset on a fixed interval and hands
// the observations to the realtime pipeline.
type MarketPoller struct {
	source   domrepo.MarketSource
	ids      []string
	interval time.Duration
	proc     mid.Proc
	metrics  domrepo.Metrics
	log      *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMarketPoller(source domrepo.MarketSource, ids []string, interval time.Duration, proc mid.Proc, metrics domrepo.Metrics, log *logger.Logger) *MarketPoller {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MarketPoller{
		source:   source,
		ids:      ids,
		interval: interval,
		proc:     proc,
		metrics:  metrics,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start polls once immediately and then on every tick until Stop or ctx is
// done.
func (m *MarketPoller) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.PollOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.PollOnce(ctx)
			}
		}
	}()
	m.log.Info("market poller started",
		logger.Strings("ids", m.ids),
		logger.Duration("interval", m.interval),
	)
}

// PollOnce fetches each id in order. A failed id is logged and skipped.
func (m *MarketPoller) PollOnce(ctx context.Context) int {
	sent := 0
	for _, id := range m.ids {
		if ctx.Err() != nil {
			return sent
		}
		start := time.Now()
		o, err := m.source.Fetch(ctx, id)
		if m.metrics != nil {
			m.metrics.RecordLatency("market_fetch", time.Since(start).Seconds())
		}
		if err != nil {
			if m.metrics != nil {
				m.metrics.RecordError("market_fetch")
			}
			m.log.Warn("market fetch failed", logger.String("id", id), logger.Error(err))
			continue
		}
		if err := m.proc.Process(ctx, o); err != nil {
			m.log.Warn("observation not forwarded", logger.String("key", o.Key), logger.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (m *MarketPoller) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
