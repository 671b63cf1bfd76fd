package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CoinFlow/internal/domain/models"
	domrepo "CoinFlow/internal/domain/repository"
	"CoinFlow/pkg/logger"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, o *models.Observation) error
}

// RealtimePipeline sits between the market poller and the publisher.
// It validates, throttles per key, optionally transforms, and buffers when
// downstream is unavailable.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	log     *logger.Logger
	maxRPS  int
	bufSize int
	bufCh   chan *models.Observation
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	mu      sync.Mutex

	seenMu   sync.Mutex
	lastSeen map[string]time.Time // per-key last accepted time
	lastSent map[string]time.Time // per-key newest ObservedAt delivered downstream

	transform  func(*models.Observation) *models.Observation
	backoffMin time.Duration
	backoffMax time.Duration
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max observations per second per key.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook that rewrites observations before forwarding.
func WithTransform(fn func(*models.Observation) *models.Observation) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// WithRetryBackoff bounds the delay between redelivery attempts of buffered
// observations.
func WithRetryBackoff(min, max time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) { p.log = l }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:       proc,
		metrics:    metrics,
		log:        logger.Nop(),
		maxRPS:     20,   // default throttle per key
		bufSize:    1000, // default buffer
		lastSeen:   make(map[string]time.Time),
		lastSent:   make(map[string]time.Time),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Observation, p.bufSize)
	return p
}

// Start launches background redelivery of buffered observations.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.flush(ctx, p.stopCh, p.done)
}

func (p *RealtimePipeline) flush(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	backoff := p.backoffMin
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case o := <-p.bufCh:
			if o == nil {
				continue
			}
			if p.stale(o) {
				p.drop("pipeline_stale", o)
				continue
			}
			if err := p.proc.Process(ctx, o); err != nil {
				p.record("pipeline_flush")
				if backoff < p.backoffMax {
					backoff *= 2
					if backoff > p.backoffMax {
						backoff = p.backoffMax
					}
				}
				select {
				case <-time.After(backoff):
				case <-stop:
					return
				}
				// requeue if space; drop otherwise
				select {
				case p.bufCh <- o:
				default:
					p.drop("pipeline_buffer_full", o)
				}
				continue
			}
			p.sent(o)
			backoff = p.backoffMin
		}
	}
}

// Stop stops the background redelivery and waits for it to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Buffered returns the number of observations awaiting redelivery.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles, and forwards o downstream, buffering on errors.
func (p *RealtimePipeline) Process(ctx context.Context, o *models.Observation) error {
	start := time.Now()
	if err := validateObservation(o); err != nil {
		p.record("pipeline_validate")
		return err
	}
	if p.transform != nil {
		o = p.transform(o)
		if err := validateObservation(o); err != nil {
			p.record("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(o.Key, start) {
		p.drop("pipeline_throttle", o)
		return nil
	}

	if err := p.proc.Process(ctx, o); err != nil {
		p.record("pipeline_process")
		select {
		case p.bufCh <- o:
		default:
			p.drop("pipeline_buffer_full", o)
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.sent(o)
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

func (p *RealtimePipeline) record(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func (p *RealtimePipeline) drop(reason string, o *models.Observation) {
	if p.metrics != nil {
		p.metrics.RecordDropped(reason)
	}
	p.log.Debug("observation dropped", logger.String("reason", reason), logger.String("key", o.Key))
}

func validateObservation(o *models.Observation) error {
	if o == nil {
		return fmt.Errorf("observation nil")
	}
	if o.Key == "" {
		return fmt.Errorf("key empty")
	}
	if o.ObservedAt.IsZero() {
		return fmt.Errorf("last_updated missing")
	}
	if o.Price < 0 || o.Volume < 0 {
		return fmt.Errorf("negative price/volume")
	}
	return nil
}

func (p *RealtimePipeline) allow(key string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	last, ok := p.lastSeen[key]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[key] = now
	return true
}

// stale reports whether a newer observation of o's key already went
// downstream. Redelivering o after it would reorder the key's stream.
func (p *RealtimePipeline) stale(o *models.Observation) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	last, ok := p.lastSent[o.Key]
	return ok && !o.ObservedAt.After(last)
}

func (p *RealtimePipeline) sent(o *models.Observation) {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if o.ObservedAt.After(p.lastSent[o.Key]) {
		p.lastSent[o.Key] = o.ObservedAt
	}
}
