package usecase

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"CoinFlow/internal/domain/models"
	domrepo "CoinFlow/internal/domain/repository"
	"CoinFlow/internal/window"
	"CoinFlow/pkg/logger"
)

// ErrProcessorStopped is returned by Emit after Stop.
var ErrProcessorStopped = errors.New("record processor stopped")

// Enricher attaches a forecast to an enriched record.
type Enricher interface {
	Enrich(ctx context.Context, rec *models.EnrichedRecord) (*models.PredictedRecord, error)
}

// Broadcaster receives every record written to the sink.
type Broadcaster interface {
	Broadcast(r *models.PredictedRecord)
}

// RecordProcessor enriches engine emissions and appends them to the sink on
// its own workers. Emit never blocks a shard: once the queue is full, records
// wait in an ordered overflow that a spill goroutine feeds to the workers.
type RecordProcessor struct {
	enricher Enricher
	sink     domrepo.Sink
	backend  string
	metrics  domrepo.Metrics
	log      *logger.Logger
	feed     Broadcaster

	workers    int
	queueSize  int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration

	queue   chan *models.EnrichedRecord
	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	ovMu     sync.Mutex
	overflow []*models.EnrichedRecord
	spilling bool // a record taken from overflow is still being queued
	spill    chan struct{}
	spillEnd chan struct{}
	spillWG  sync.WaitGroup
}

type ProcessorOption func(*RecordProcessor)

func WithWorkers(n int) ProcessorOption {
	return func(p *RecordProcessor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithProcessorQueue(n int) ProcessorOption {
	return func(p *RecordProcessor) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithSinkRetry sets how many times a failed append is retried and the
// bounds of the jittered exponential backoff between attempts.
func WithSinkRetry(max int, backoffMin, backoffMax time.Duration) ProcessorOption {
	return func(p *RecordProcessor) {
		if max >= 0 {
			p.retryMax = max
		}
		if backoffMin > 0 {
			p.backoffMin = backoffMin
		}
		if backoffMax > 0 {
			p.backoffMax = backoffMax
		}
	}
}

func WithBackend(name string) ProcessorOption {
	return func(p *RecordProcessor) { p.backend = name }
}

func WithProcessorMetrics(m domrepo.Metrics) ProcessorOption {
	return func(p *RecordProcessor) { p.metrics = m }
}

func WithProcessorLogger(l *logger.Logger) ProcessorOption {
	return func(p *RecordProcessor) { p.log = l }
}

func WithBroadcaster(b Broadcaster) ProcessorOption {
	return func(p *RecordProcessor) { p.feed = b }
}

func NewRecordProcessor(enricher Enricher, sink domrepo.Sink, opts ...ProcessorOption) *RecordProcessor {
	p := &RecordProcessor{
		enricher:   enricher,
		sink:       sink,
		backend:    "sink",
		log:        logger.Nop(),
		workers:    4,
		queueSize:  1024,
		retryMax:   5,
		backoffMin: 100 * time.Millisecond,
		backoffMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan *models.EnrichedRecord, p.queueSize)
	p.spill = make(chan struct{}, 1)
	p.spillEnd = make(chan struct{})
	return p
}

// Start launches the workers. Calling it more than once is a no-op.
func (p *RecordProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.spillWG.Add(1)
	go p.spiller()
	p.log.Info("record processor started",
		logger.Int("workers", p.workers),
		logger.String("backend", p.backend),
	)
}

func (p *RecordProcessor) worker(ctx context.Context) {
	defer p.wg.Done()
	for rec := range p.queue {
		_ = p.Process(ctx, rec)
	}
}

// Emit queues rec for enrichment without blocking. Records keep emission
// order whether they go straight to the queue or through the overflow.
func (p *RecordProcessor) Emit(ctx context.Context, rec *models.EnrichedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProcessorStopped
	}
	cp := *rec

	p.ovMu.Lock()
	defer p.ovMu.Unlock()
	if len(p.overflow) == 0 && !p.spilling {
		select {
		case p.queue <- &cp:
			return nil
		default:
		}
	}
	p.overflow = append(p.overflow, &cp)
	if len(p.overflow) == 1 {
		p.log.Debug("record queue full, spilling", logger.String("key", rec.Key))
	}
	select {
	case p.spill <- struct{}{}:
	default:
	}
	return nil
}

// spiller moves overflowed records into the queue, blocking on the workers
// instead of the shards. After spillEnd is closed it empties the overflow
// and exits.
func (p *RecordProcessor) spiller() {
	defer p.spillWG.Done()
	for {
		select {
		case <-p.spill:
		case <-p.spillEnd:
			p.spillAll()
			return
		}
		p.spillAll()
	}
}

func (p *RecordProcessor) spillAll() {
	for {
		p.ovMu.Lock()
		if len(p.overflow) == 0 {
			p.spilling = false
			p.ovMu.Unlock()
			return
		}
		rec := p.overflow[0]
		p.overflow[0] = nil
		p.overflow = p.overflow[1:]
		p.spilling = true
		p.ovMu.Unlock()

		p.queue <- rec
	}
}

// Stop closes the queue and waits until every queued record has been
// processed or ctx expires.
func (p *RecordProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()
	if !started {
		close(p.queue)
		return nil
	}

	done := make(chan struct{})
	go func() {
		close(p.spillEnd)
		p.spillWG.Wait()
		close(p.queue)
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("record processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of records not yet taken by a worker.
func (p *RecordProcessor) Pending() int {
	p.ovMu.Lock()
	defer p.ovMu.Unlock()
	return len(p.queue) + len(p.overflow)
}

// Process enriches one record and appends it to the sink. Records without
// a prediction are dropped.
func (p *RecordProcessor) Process(ctx context.Context, rec *models.EnrichedRecord) error {
	start := time.Now()
	out, err := p.enricher.Enrich(ctx, rec)
	if err != nil {
		if errors.Is(err, models.ErrPredictionUnavailable) {
			if p.metrics != nil {
				p.metrics.RecordDropped("prediction_unavailable")
			}
			return err
		}
		if p.metrics != nil {
			p.metrics.RecordError("enrich")
		}
		p.log.Error("enrich record", logger.String("key", rec.Key), logger.Error(err))
		return err
	}

	if err := p.append(ctx, out); err != nil {
		if p.metrics != nil {
			p.metrics.RecordError("sink_write")
			p.metrics.RecordDropped("sink_write")
		}
		p.log.Error("sink append failed",
			logger.String("key", out.Key),
			logger.String("backend", p.backend),
			logger.Int("attempts", p.retryMax+1),
			logger.Error(err),
		)
		return err
	}

	if p.metrics != nil {
		p.metrics.RecordSinkWrite(p.backend)
		p.metrics.RecordLatency("process_record", time.Since(start).Seconds())
	}
	if p.feed != nil {
		p.feed.Broadcast(out)
	}
	return nil
}

func (p *RecordProcessor) append(ctx context.Context, out *models.PredictedRecord) error {
	var err error
	for attempt := 0; attempt <= p.retryMax; attempt++ {
		if err = p.sink.Append(ctx, out); err == nil {
			return nil
		}
		if attempt == p.retryMax {
			break
		}
		p.log.Warn("sink append retry",
			logger.String("key", out.Key),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
		select {
		case <-time.After(backoffWithJitter(p.backoffMin, p.backoffMax, attempt)):
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	d := min << uint(attempt)
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

var _ window.Emitter = (*RecordProcessor)(nil)
