package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subastas/bidengine/internal/auction/domain"
)

// Registry is the arena of per-auction coordinators: one execution context per
// open auction, created on first use, torn down after the auction reaches a
// terminal state. There is no global lock around auction state; the registry
// mutex only guards the map itself.
type Registry struct {
	store     Store
	publisher EventPublisher
	now       func() time.Time

	mu      sync.Mutex
	coords  map[uuid.UUID]*coordEntry
	loading map[uuid.UUID]*loadLatch
	ctx     context.Context
	stop    context.CancelFunc
}

type coordEntry struct {
	coord  *Coordinator
	cancel context.CancelFunc
}

// loadLatch lets concurrent first users of one auction share a single store
// load. Fields are written by the loading goroutine before done is closed.
type loadLatch struct {
	done     chan struct{}
	coord    *Coordinator
	terminal *domain.Auction
	err      error
}

type RegistryOption func(*Registry)

// WithClock overrides the registry clock, used by tests to drive end times.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(store Store, publisher EventPublisher, opts ...RegistryOption) *Registry {
	ctx, stop := context.WithCancel(context.Background())
	r := &Registry{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		coords:    make(map[uuid.UUID]*coordEntry),
		loading:   make(map[uuid.UUID]*loadLatch),
		ctx:       ctx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	if publisher == nil {
		r.publisher = NopPublisher{}
	}
	return r
}

// SetPublisher binds the event publisher after construction. Meant for wiring
// cycles at startup, before any coordinator is spawned.
func (r *Registry) SetPublisher(p EventPublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p != nil {
		r.publisher = p
	}
}

// Shutdown stops every coordinator loop. The command being processed finishes;
// commands still queued are answered with a coordinator-stopped error by the
// loop's drain.
func (r *Registry) Shutdown() {
	r.stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.coords {
		e.cancel()
		delete(r.coords, id)
	}
}

// acquire returns the live coordinator for an open auction, hydrating it from
// the store when this process has not touched the auction yet. For auctions
// already in a terminal state no coordinator is spawned and the hydrated
// aggregate is returned instead.
//
// The store load runs outside the registry lock: one slow hydration must not
// stall commands for unrelated auctions. A per-auction latch keeps concurrent
// first users from loading the same auction twice.
func (r *Registry) acquire(ctx context.Context, id uuid.UUID) (*Coordinator, *domain.Auction, error) {
	r.mu.Lock()
	if e, ok := r.coords[id]; ok {
		r.mu.Unlock()
		return e.coord, nil, nil
	}
	if l, ok := r.loading[id]; ok {
		r.mu.Unlock()
		select {
		case <-l.done:
			return l.coord, l.terminal, l.err
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	l := &loadLatch{done: make(chan struct{})}
	r.loading[id] = l
	r.mu.Unlock()

	l.coord, l.terminal, l.err = r.hydrate(ctx, id)

	r.mu.Lock()
	delete(r.loading, id)
	r.mu.Unlock()
	close(l.done)
	return l.coord, l.terminal, l.err
}

func (r *Registry) hydrate(ctx context.Context, id uuid.UUID) (*Coordinator, *domain.Auction, error) {
	row, bids, err := r.store.LoadAuction(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a, err := domain.Hydrate(row, bids)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != domain.StatusOpen {
		return nil, a, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.coords[id]; ok {
		return e.coord, nil, nil
	}
	return r.spawnLocked(a), nil, nil
}

// adopt registers a coordinator for an aggregate already built in memory
// (a freshly opened auction).
func (r *Registry) adopt(a *domain.Auction) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.coords[a.ID]; ok {
		return e.coord
	}
	return r.spawnLocked(a)
}

func (r *Registry) spawnLocked(a *domain.Auction) *Coordinator {
	c := newCoordinator(a, r.store, r.publisher, r.now)
	ctx, cancel := context.WithCancel(r.ctx)
	r.coords[a.ID] = &coordEntry{coord: c, cancel: cancel}
	go c.run(ctx)
	return c
}

// release tears the auction's execution context down once it reached a
// terminal state. A late command for the same auction simply re-hydrates.
func (r *Registry) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.coords[id]; ok {
		e.cancel()
		delete(r.coords, id)
	}
}

func (r *Registry) releaseIfTerminal(id uuid.UUID, status domain.AuctionStatus) {
	if status == domain.StatusClosed || status == domain.StatusCancelled {
		r.release(id)
	}
}

func terminalOutcomeError(a *domain.Auction) error {
	return fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, domain.ErrAuctionClosed)
}
