package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CoinFlow/internal/domain/models"
	domrepo "CoinFlow/internal/domain/repository"
	"CoinFlow/internal/window"
	"CoinFlow/pkg/logger"
)

// Source delivers raw payloads to the registered handlers.
// *kafka.Consumer implements it.
type Source interface {
	Start() error
	Stop(ctx context.Context) error
}

// WindowEngine is the part of *window.Engine the driver needs.
type WindowEngine interface {
	Start()
	Stop()
	AdvanceWatermark(ctx context.Context, t time.Time) (int, error)
	Drain(ctx context.Context) (int, error)
	Snapshot(ctx context.Context) ([]models.KeySnapshot, error)
	Restore(ctx context.Context, snaps []models.KeySnapshot) error
}

// PipelineConfig is the shutdown and timing policy of the driver.
type PipelineConfig struct {
	WatermarkInterval  time.Duration
	DrainOnShutdown    bool
	Checkpoint         bool
	CheckpointInterval time.Duration
}

// Pipeline runs Source -> Engine -> RecordProcessor -> Sink and owns the
// watermark clock.
type Pipeline struct {
	cfg     PipelineConfig
	source  Source
	engine  WindowEngine
	proc    *RecordProcessor
	wm      WatermarkSource
	sink    domrepo.Sink
	store   domrepo.StateStore
	metrics domrepo.Metrics
	log     *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup
	cancel  context.CancelFunc
}

func NewPipeline(
	cfg PipelineConfig,
	source Source,
	engine WindowEngine,
	proc *RecordProcessor,
	wm WatermarkSource,
	sink domrepo.Sink,
	store domrepo.StateStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *Pipeline {
	if cfg.WatermarkInterval <= 0 {
		cfg.WatermarkInterval = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		cfg:     cfg,
		source:  source,
		engine:  engine,
		proc:    proc,
		wm:      wm,
		sink:    sink,
		store:   store,
		metrics: metrics,
		log:     log,
	}
}

// Start prepares the sink, restores checkpointed state and starts consuming.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	if err := p.sink.Init(ctx); err != nil {
		return fmt.Errorf("init sink: %w", err)
	}

	// Workers outlive the caller's context so shutdown can drain them.
	workCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.proc.Start(workCtx)
	p.engine.Start()

	if p.cfg.Checkpoint && p.store != nil {
		snaps, err := p.store.Load(ctx)
		if err != nil {
			p.log.Warn("checkpoint load failed, starting empty", logger.Error(err))
		} else if len(snaps) > 0 {
			if err := p.engine.Restore(ctx, snaps); err != nil {
				cancel()
				return fmt.Errorf("restore window state: %w", err)
			}
			p.log.Info("window state restored", logger.Int("keys", len(snaps)))
		}
	}

	if p.source != nil {
		if err := p.source.Start(); err != nil {
			cancel()
			return fmt.Errorf("start source: %w", err)
		}
	}

	p.stopCh = make(chan struct{})
	p.loopWG.Add(1)
	go p.loop(workCtx)
	p.running = true
	p.log.Info("pipeline started",
		logger.Duration("watermark_interval", p.cfg.WatermarkInterval),
		logger.Bool("drain_on_shutdown", p.cfg.DrainOnShutdown),
		logger.Bool("checkpoint", p.cfg.Checkpoint),
	)
	return nil
}

func (p *Pipeline) loop(ctx context.Context) {
	defer p.loopWG.Done()
	wmTicker := time.NewTicker(p.cfg.WatermarkInterval)
	defer wmTicker.Stop()

	var cpTick <-chan time.Time
	if p.cfg.Checkpoint && p.store != nil && p.cfg.CheckpointInterval > 0 {
		cpTicker := time.NewTicker(p.cfg.CheckpointInterval)
		defer cpTicker.Stop()
		cpTick = cpTicker.C
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-wmTicker.C:
			p.Tick(ctx)
		case <-cpTick:
			if err := p.Checkpoint(ctx); err != nil {
				p.log.Warn("periodic checkpoint failed", logger.Error(err))
			}
		}
	}
}

// Tick advances the engine to the current watermark.
func (p *Pipeline) Tick(ctx context.Context) int {
	wm := p.wm.Current()
	if wm.IsZero() {
		return 0
	}
	n, err := p.engine.AdvanceWatermark(ctx, wm)
	if err != nil && !errors.Is(err, window.ErrEngineStopped) {
		p.log.Error("advance watermark", logger.Time("watermark", wm), logger.Error(err))
	}
	if n > 0 {
		p.log.Debug("timers fired", logger.Int("emitted", n), logger.Time("watermark", wm))
	}
	return n
}

// Checkpoint writes every key's window state to the state store.
func (p *Pipeline) Checkpoint(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	snaps, err := p.engine.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	start := time.Now()
	if err := p.store.Save(ctx, snaps); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("checkpoint")
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("checkpoint", time.Since(start).Seconds())
	}
	p.log.Debug("checkpoint written", logger.Int("keys", len(snaps)))
	return nil
}

// Shutdown stops consuming, then either drains pending timers through the
// processor or checkpoints them, depending on the configured policy. Without
// either, pending timers are lost.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.loopWG.Wait()

	var errs []error
	if p.source != nil {
		if err := p.source.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop source: %w", err))
		}
	}

	switch {
	case p.cfg.DrainOnShutdown:
		n, err := p.engine.Drain(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("drain engine: %w", err))
		}
		p.log.Info("engine drained", logger.Int("emitted", n))
	case p.cfg.Checkpoint && p.store != nil:
		if err := p.Checkpoint(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
		}
	default:
		p.log.Warn("pending timers discarded on shutdown")
	}

	p.engine.Stop()
	if err := p.proc.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop processor: %w", err))
	}
	p.cancel()

	if err := p.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state store: %w", err))
		}
	}
	p.log.Info("pipeline stopped")
	return errors.Join(errs...)
}

// Health reports sink reachability.
func (p *Pipeline) Health(ctx context.Context) error {
	return p.sink.Health(ctx)
}
