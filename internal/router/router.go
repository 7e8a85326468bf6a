// Package router implements a bounded fair-queue that guarantees ordering
// within one ConversationKey and concurrency across keys. Each key gets its
// own bounded channel and worker goroutine, created lazily. When a new key
// arrives while the channel count is at its cap, the least-recently-active
// idle queue is evicted to make room.
package router

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/errs"
	"github.com/wayne930242/discord-agents/internal/observability"
)

// Handler processes one QueueItem's payload. A handler error is logged by
// the worker loop and never propagates past it; the queue continues.
type Handler func(ctx context.Context, payload any) error

// QueueItem is one pending unit of work for a ConversationKey.
type QueueItem struct {
	ConversationKey domain.ConversationKey
	Payload         any
	Handler         Handler
	EnqueueTime     time.Time
}

// Snapshot describes one key's queue for observability.
type Snapshot struct {
	Key          domain.ConversationKey
	Pending      int
	LastActivity time.Time
	InFlight     bool
}

type entry struct {
	ch       chan QueueItem
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	pending  int
	inFlight bool
	lastSeen time.Time
}

// Router is a per-bot fair-queue router.
type Router struct {
	mu     sync.Mutex
	queues map[domain.ConversationKey]*entry

	maxChannels      int
	queueCapacity    int
	backpressureWait time.Duration
	label            string

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	logger *log.Logger
}

// Config bundles the Router's capacity bounds. Label identifies this
// router instance (normally a bot id) on the pending-messages gauge.
type Config struct {
	MaxChannels      int
	QueueCapacity    int
	BackpressureWait time.Duration
	Label            string
}

// New constructs a Router bound to parent's lifetime.
func New(parent context.Context, cfg Config, logger *log.Logger) *Router {
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = 100
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.BackpressureWait <= 0 {
		cfg.BackpressureWait = time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "router ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Router{
		queues:           make(map[domain.ConversationKey]*entry),
		maxChannels:      cfg.MaxChannels,
		queueCapacity:    cfg.QueueCapacity,
		backpressureWait: cfg.BackpressureWait,
		label:            cfg.Label,
		ctx:              ctx,
		cancel:           cancel,
		logger:           logger,
	}
}

// Enqueue admits payload for key, creating a queue (and its single worker)
// on first use. It returns ErrRouterSaturated if the router is at
// max_channels and no idle queue was evictable, or ErrChannelBacklogged if
// key's queue stayed full for the whole bounded wait.
func (r *Router) Enqueue(ctx context.Context, key domain.ConversationKey, payload any, handler Handler) error {
	e, err := r.ensureQueue(key)
	if err != nil {
		return err
	}

	item := QueueItem{ConversationKey: key, Payload: payload, Handler: handler, EnqueueTime: time.Now()}

	timer := time.NewTimer(r.backpressureWait)
	defer timer.Stop()

	select {
	case e.ch <- item:
		e.mu.Lock()
		e.pending++
		pending := e.pending
		e.mu.Unlock()
		observability.SetRouterPending(r.label, pending)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		observability.RecordRouterBacklog(r.label)
		return fmt.Errorf("%w: key %q", errs.ErrChannelBacklogged, key)
	}
}

func (r *Router) ensureQueue(key domain.ConversationKey) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errs.ErrRouterClosed
	}
	if e, ok := r.queues[key]; ok {
		return e, nil
	}
	if len(r.queues) >= r.maxChannels {
		if !r.evictOneLocked() {
			return nil, fmt.Errorf("%w: %d channels active", errs.ErrRouterSaturated, len(r.queues))
		}
	}

	childCtx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		ch:       make(chan QueueItem, r.queueCapacity),
		cancel:   cancel,
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}
	r.queues[key] = e
	go r.runWorker(childCtx, key, e)
	return e, nil
}

// evictOneLocked removes the least-recently-active idle (empty,
// not-in-flight) queue. Caller holds r.mu. Returns false if none qualify.
func (r *Router) evictOneLocked() bool {
	var victim domain.ConversationKey
	var oldest time.Time
	found := false

	for key, e := range r.queues {
		e.mu.Lock()
		idle := e.pending == 0 && !e.inFlight
		seen := e.lastSeen
		e.mu.Unlock()
		if !idle {
			continue
		}
		if !found || seen.Before(oldest) {
			victim, oldest = key, seen
			found = true
		}
	}
	if !found {
		return false
	}

	e := r.queues[victim]
	e.cancel()
	delete(r.queues, victim)
	// The worker goroutine observes ctx.Done() and exits; done channel will
	// close shortly. We do not block here since the caller holds r.mu.
	return true
}

func (r *Router) runWorker(ctx context.Context, key domain.ConversationKey, e *entry) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-e.ch:
			if !ok {
				return
			}
			e.mu.Lock()
			e.inFlight = true
			e.pending--
			e.mu.Unlock()

			func() {
				defer func() {
					if p := recover(); p != nil {
						r.logger.Printf("[router] handler panic for key %q: %v", key, p)
					}
				}()
				if err := item.Handler(ctx, item.Payload); err != nil {
					r.logger.Printf("[router] handler error for key %q: %v", key, err)
				}
			}()

			e.mu.Lock()
			e.inFlight = false
			e.lastSeen = time.Now()
			e.mu.Unlock()
		}
	}
}

// WaitChannelIdle blocks until key's queue is empty and its worker is not
// in a handler call, or ctx is done.
func (r *Router) WaitChannelIdle(ctx context.Context, key domain.ConversationKey) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		e, ok := r.queues[key]
		r.mu.Unlock()
		if !ok {
			return nil
		}
		e.mu.Lock()
		idle := e.pending == 0 && !e.inFlight
		e.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitAllIdle blocks until every live queue is idle, or ctx is done.
func (r *Router) WaitAllIdle(ctx context.Context) error {
	r.mu.Lock()
	keys := make([]domain.ConversationKey, 0, len(r.queues))
	for k := range r.queues {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		if err := r.WaitChannelIdle(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown marks the router closed to further enqueues, then gives every
// worker up to timeout to drain its already-queued backlog before
// cancelling whatever is left running.
func (r *Router) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.queues))
	for _, e := range r.queues {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	deadline := time.Now().Add(timeout)
	r.drainUntil(entries, deadline)

	r.cancel()

	for _, e := range entries {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-e.done:
		case <-time.After(remaining):
			return
		}
	}
}

// drainUntil blocks until every entry's backlog is empty and its worker is
// idle, or deadline passes, whichever comes first. New enqueues are already
// refused once r.closed is set; this only waits out work already queued.
func (r *Router) drainUntil(entries []*entry, deadline time.Time) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for _, e := range entries {
		for {
			e.mu.Lock()
			idle := e.pending == 0 && !e.inFlight
			e.mu.Unlock()
			if idle || time.Now().After(deadline) {
				break
			}
			<-ticker.C
		}
	}
}

// Snapshot returns one entry per live key plus the total pending count,
// consumed by the read-only monitoring endpoint.
func (r *Router) Snapshot() ([]Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.queues))
	total := 0
	for key, e := range r.queues {
		e.mu.Lock()
		snap := Snapshot{Key: key, Pending: e.pending, LastActivity: e.lastSeen, InFlight: e.inFlight}
		e.mu.Unlock()
		out = append(out, snap)
		total += snap.Pending
	}
	return out, total
}

// ObservabilitySnapshot adapts Snapshot to observability.RouterSnapshot so a
// Router can be registered directly with the control-plane HTTP server.
func (r *Router) ObservabilitySnapshot() ([]observability.SnapshotEntry, int) {
	queues, total := r.Snapshot()
	out := make([]observability.SnapshotEntry, 0, len(queues))
	for _, q := range queues {
		out = append(out, observability.SnapshotEntry{
			Key:          string(q.Key),
			Pending:      q.Pending,
			LastActivity: q.LastActivity,
			InFlight:     q.InFlight,
		})
	}
	return out, total
}
