package window

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	"CoinFlow/pkg/logger"
)

// ErrEngineStopped is returned by calls made after Stop.
var ErrEngineStopped = errors.New("window engine stopped")

// Emitter receives records produced by timer firings. It is called from the
// shard goroutines and must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, rec *models.EnrichedRecord) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, rec *models.EnrichedRecord) error

func (f EmitterFunc) Emit(ctx context.Context, rec *models.EnrichedRecord) error {
	return f(ctx, rec)
}

type command func(p *Processor)

type shard struct {
	id   int
	proc *Processor
	cmds chan command
}

// Engine partitions keys across shards. Each shard is one goroutine that
// owns a Processor, so a key's events are applied by a single owner in the
// order they were submitted.
type Engine struct {
	size      int
	queueSize int
	shards    []*shard
	emitter   Emitter
	metrics   repository.Metrics
	log       *logger.Logger

	tracked   atomic.Int64
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	wg        sync.WaitGroup
}

type EngineOption func(*Engine)

func WithShards(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.shards = make([]*shard, n)
		}
	}
}

func WithWindowSize(n int) EngineOption {
	return func(e *Engine) { e.size = n }
}

func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func WithMetrics(m repository.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine builds an Engine emitting to emitter. Shard goroutines start on
// Start.
func NewEngine(emitter Emitter, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		size:      DefaultSize,
		queueSize: 1024,
		shards:    make([]*shard, 4),
		emitter:   emitter,
		log:       logger.Nop(),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if emitter == nil {
		return nil, &models.StateFault{Reason: "window engine requires an emitter"}
	}
	for i := range e.shards {
		proc, err := NewProcessor(e.size)
		if err != nil {
			return nil, err
		}
		e.shards[i] = &shard{id: i, proc: proc, cmds: make(chan command, e.queueSize)}
	}
	return e, nil
}

// Start launches the shard goroutines. Calling it more than once is a no-op.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for _, sh := range e.shards {
			e.wg.Add(1)
			go e.run(sh)
		}
		e.log.Info("window engine started",
			logger.Int("shards", len(e.shards)),
			logger.Int("window_size", e.size),
		)
	})
}

func (e *Engine) run(sh *shard) {
	defer e.wg.Done()
	for {
		select {
		case cmd := <-sh.cmds:
			cmd(sh.proc)
		case <-e.stopped:
			return
		}
	}
}

// Stop terminates the shard goroutines. Pending timers are discarded; call
// Drain first to fire them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		e.wg.Wait()
		e.log.Info("window engine stopped")
	})
}

func (e *Engine) shardFor(key string) *shard {
	return e.shards[xxhash.Sum64String(key)%uint64(len(e.shards))]
}

func (e *Engine) submit(ctx context.Context, sh *shard, cmd command) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}
	select {
	case sh.cmds <- cmd:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call submits cmd and waits until the shard has run it.
func (e *Engine) call(ctx context.Context, sh *shard, cmd command) error {
	done := make(chan struct{})
	if err := e.submit(ctx, sh, func(p *Processor) {
		defer close(done)
		cmd(p)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcast runs cmd on every shard concurrently and waits for all of them.
func (e *Engine) broadcast(ctx context.Context, cmd func(sh *shard, p *Processor)) error {
	errs := make([]error, len(e.shards))
	var wg sync.WaitGroup
	for i, sh := range e.shards {
		wg.Add(1)
		go func(i int, sh *shard) {
			defer wg.Done()
			errs[i] = e.call(ctx, sh, func(p *Processor) { cmd(sh, p) })
		}(i, sh)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Observe hands obs to the shard owning its key. It returns once the
// observation is queued; observations submitted by one goroutine are applied
// in submission order.
func (e *Engine) Observe(ctx context.Context, obs models.Observation) error {
	if e.metrics != nil {
		e.metrics.RecordObservation(obs.Key)
		e.metrics.RecordLastPrice(obs.Key, obs.Price)
	}
	return e.submit(ctx, e.shardFor(obs.Key), func(p *Processor) {
		if p.OnObservation(obs) {
			n := e.tracked.Add(1)
			if e.metrics != nil {
				e.metrics.SetTrackedKeys(int(n))
			}
		}
	})
}

// AdvanceWatermark moves every shard's watermark to t and emits the records
// of the timers it passed. It returns the number of records emitted.
func (e *Engine) AdvanceWatermark(ctx context.Context, t time.Time) (int, error) {
	var emitted atomic.Int64
	err := e.broadcast(ctx, func(sh *shard, p *Processor) {
		emitted.Add(int64(e.emit(ctx, sh, p.AdvanceWatermark(t))))
	})
	if e.metrics != nil {
		e.metrics.SetWatermark(t)
	}
	return int(emitted.Load()), err
}

// Drain fires every pending timer regardless of the watermark.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	var emitted atomic.Int64
	err := e.broadcast(ctx, func(sh *shard, p *Processor) {
		emitted.Add(int64(e.emit(ctx, sh, p.Flush())))
	})
	return int(emitted.Load()), err
}

func (e *Engine) emit(ctx context.Context, sh *shard, recs []models.EnrichedRecord) int {
	n := 0
	for i := range recs {
		rec := recs[i]
		if err := e.emitter.Emit(ctx, &rec); err != nil {
			e.log.Error("emit enriched record",
				logger.String("key", rec.Key),
				logger.Int("shard", sh.id),
				logger.Error(err),
			)
			if e.metrics != nil {
				e.metrics.RecordError("emit")
			}
			continue
		}
		n++
		if e.metrics != nil {
			e.metrics.RecordEmission(rec.Key)
		}
	}
	return n
}

// Keys lists every tracked key, sorted.
func (e *Engine) Keys(ctx context.Context) ([]string, error) {
	var mu sync.Mutex
	var keys []string
	err := e.broadcast(ctx, func(_ *shard, p *Processor) {
		k := p.Keys()
		mu.Lock()
		keys = append(keys, k...)
		mu.Unlock()
	})
	sort.Strings(keys)
	return keys, err
}

// State returns a copy of one key's window state.
func (e *Engine) State(ctx context.Context, key string) (models.KeySnapshot, bool, error) {
	var (
		snap models.KeySnapshot
		ok   bool
	)
	err := e.call(ctx, e.shardFor(key), func(p *Processor) {
		snap, ok = p.State(key)
	})
	return snap, ok, err
}

// Snapshot copies the state of every key, sorted by key.
func (e *Engine) Snapshot(ctx context.Context) ([]models.KeySnapshot, error) {
	var mu sync.Mutex
	var out []models.KeySnapshot
	err := e.broadcast(ctx, func(_ *shard, p *Processor) {
		s := p.Snapshot()
		mu.Lock()
		out = append(out, s...)
		mu.Unlock()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

// Restore loads snapshots into the shards owning their keys.
func (e *Engine) Restore(ctx context.Context, snaps []models.KeySnapshot) error {
	byShard := make(map[*shard][]models.KeySnapshot)
	for _, s := range snaps {
		sh := e.shardFor(s.Key)
		byShard[sh] = append(byShard[sh], s)
	}
	for sh, batch := range byShard {
		batch := batch
		if err := e.call(ctx, sh, func(p *Processor) {
			before := p.Len()
			p.Restore(batch)
			e.tracked.Add(int64(p.Len() - before))
		}); err != nil {
			return err
		}
	}
	if e.metrics != nil {
		e.metrics.SetTrackedKeys(int(e.tracked.Load()))
	}
	return nil
}

// Stats is a point-in-time summary across shards.
type Stats struct {
	Keys       int       `json:"keys"`
	Pending    int       `json:"pending"`
	Fired      int64     `json:"fired"`
	Suppressed int64     `json:"suppressed"`
	Watermark  time.Time `json:"watermark"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var mu sync.Mutex
	var st Stats
	err := e.broadcast(ctx, func(_ *shard, p *Processor) {
		fired, suppressed := p.Stats()
		mu.Lock()
		defer mu.Unlock()
		st.Keys += p.Len()
		st.Pending += p.Pending()
		st.Fired += fired
		st.Suppressed += suppressed
		if p.Watermark().After(st.Watermark) {
			st.Watermark = p.Watermark()
		}
	})
	return st, err
}
