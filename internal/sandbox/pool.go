package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/observability"
)

// Factory creates a new underlying Handle. Production wiring supplies
// NewDockerHandle bound to a fixed image and resource limits; tests supply a
// fake.
type Factory func(ctx context.Context) (Handle, error)

// entry tracks one pooled sandbox and when it was last returned to the pool.
type entry struct {
	handle   Handle
	idleSince time.Time
}

// Pool manages a bounded set of sandboxes and hands out freshly bound
// Runtimes over them. The pool recycles container processes to amortize
// startup cost, but every Acquire call starts a brand-new interpreter with
// the caller's environment: a sandbox returning to the pool never carries a
// previous caller's database URL or credentials into the next acquisition.
type Pool struct {
	factory     Factory
	maxSize     int
	idleTimeout time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics

	mu        sync.Mutex
	available []*entry
	inUse     map[string]*entry
	size      int
}

// SetMetrics attaches a metrics sink the pool reports sandbox lifecycle
// events to. Optional; a Pool with no metrics attached behaves identically,
// just without the Prometheus series.
func (p *Pool) SetMetrics(m *observability.Metrics) {
	p.metrics = m
}

// PoolConfig controls pool capacity and idle-sandbox reclamation.
type PoolConfig struct {
	MaxSize     int
	IdleTimeout time.Duration
}

// NewPool constructs a Pool with no sandboxes started yet; they are created
// lazily on first Acquire, up to MaxSize.
func NewPool(factory Factory, cfg PoolConfig, logger *observability.Logger) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	return &Pool{
		factory:     factory,
		maxSize:     cfg.MaxSize,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
		inUse:       make(map[string]*entry),
	}
}

// Leased pairs a checked-out Runtime with the pool bookkeeping needed to
// release it.
type Leased struct {
	Runtime *Runtime
	handle  Handle
}

// Acquire checks out a sandbox (reusing an idle one when available,
// otherwise creating one if under MaxSize) and binds a fresh Runtime to it
// scoped to dbConn/creds. The caller must Release the result.
func (p *Pool) Acquire(ctx context.Context, dbConn string, creds StoreCreds) (*Leased, error) {
	h, e, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	rt, err := NewRuntime(ctx, h, dbConn, creds)
	if err != nil {
		// The sandbox itself may be unusable; drop it from the pool entirely
		// rather than recycling a broken container.
		p.drop(e)
		p.metrics.RecordAcquire("lost")
		return nil, err
	}

	p.logger.Info(ctx, "sandbox acquired", "sandbox_id", h.ID())
	p.metrics.RecordAcquire("success")
	p.metrics.SetPoolSize(p.Size())
	return &Leased{Runtime: rt, handle: h}, nil
}

func (p *Pool) checkout(ctx context.Context) (Handle, *entry, error) {
	p.mu.Lock()
	if n := len(p.available); n > 0 {
		e := p.available[n-1]
		p.available = p.available[:n-1]
		p.inUse[e.handle.ID()] = e
		p.mu.Unlock()

		running, err := e.handle.Running(ctx)
		if err == nil && running {
			return e.handle, e, nil
		}
		if err := e.handle.Restart(ctx); err != nil {
			p.mu.Lock()
			delete(p.inUse, e.handle.ID())
			p.size--
			p.mu.Unlock()
			return nil, nil, catalogerr.Wrap(catalogerr.SandboxLost, "pool.checkout", err)
		}
		return e.handle, e, nil
	}

	if p.size >= p.maxSize {
		p.mu.Unlock()
		p.metrics.RecordAcquire("exhausted")
		return nil, nil, catalogerr.New(catalogerr.PoolExhausted, "pool.checkout", "sandbox pool exhausted (max_size=%d)", p.maxSize)
	}
	p.size++
	p.mu.Unlock()

	h, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		return nil, nil, catalogerr.Wrap(catalogerr.SandboxLost, "pool.checkout", err)
	}
	e := &entry{handle: h}
	p.mu.Lock()
	p.inUse[h.ID()] = e
	p.mu.Unlock()
	return h, e, nil
}

func (p *Pool) drop(e *entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	delete(p.inUse, e.handle.ID())
	p.size--
	p.mu.Unlock()
	_ = e.handle.Stop(context.Background())
}

// Release returns a leased sandbox to the idle pool. The interpreter keeps
// running; the next Acquire will Reset it before reuse.
func (p *Pool) Release(ctx context.Context, l *Leased) {
	if l == nil {
		return
	}
	p.mu.Lock()
	e, ok := p.inUse[l.handle.ID()]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, l.handle.ID())
	e.idleSince = time.Now()
	p.available = append(p.available, e)
	p.mu.Unlock()

	p.logger.Info(ctx, "sandbox released", "sandbox_id", l.handle.ID())
	p.metrics.RecordRelease()
}

// WithRuntime acquires a sandbox, invokes fn with its Runtime, and always
// releases the sandbox afterward, regardless of whether fn returns an error.
func (p *Pool) WithRuntime(ctx context.Context, dbConn string, creds StoreCreds, fn func(*Runtime) error) error {
	leased, err := p.Acquire(ctx, dbConn, creds)
	if err != nil {
		return err
	}
	defer p.Release(ctx, leased)
	return fn(leased.Runtime)
}

// Cleanup stops and discards any idle sandbox that has exceeded IdleTimeout,
// shrinking the pool back toward zero when there is no active load.
func (p *Pool) Cleanup(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	var stale []*entry
	var keep []*entry
	for _, e := range p.available {
		if now.Sub(e.idleSince) > p.idleTimeout {
			stale = append(stale, e)
		} else {
			keep = append(keep, e)
		}
	}
	p.available = keep
	p.size -= len(stale)
	p.mu.Unlock()

	for _, e := range stale {
		p.logger.Info(ctx, "reclaiming idle sandbox", "sandbox_id", e.handle.ID())
		_ = e.handle.Stop(ctx)
		p.metrics.RecordReclaimed()
	}
	p.metrics.SetPoolSize(p.Size())
}

// Size returns the number of sandboxes currently tracked (idle + in-use).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Close stops every sandbox the pool owns, idle or leased.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	all := append([]*entry{}, p.available...)
	for _, e := range p.inUse {
		all = append(all, e)
	}
	p.available = nil
	p.inUse = make(map[string]*entry)
	p.size = 0
	p.mu.Unlock()

	for _, e := range all {
		_ = e.handle.Stop(ctx)
	}
}
