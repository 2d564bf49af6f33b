// Package indexer builds the tracks index in the background and publishes
// it for concurrent readers.
//
// Readers call Current and get either nil (nothing built yet) or a complete
// snapshot; a new index replaces the old one with a single atomic pointer
// store. A failed rebuild leaves the previous snapshot in place.
package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"confsched/internal/clock"
	appLog "confsched/internal/log"
	"confsched/internal/schedule"
	"confsched/internal/tracks"
)

// Snapshot is a published index. It is never modified after publication.
type Snapshot struct {
	Index      *tracks.Index
	BuiltAt    time.Time
	Generation uint64
}

// Result is delivered once per Rebuild call.
type Result struct {
	Snapshot *Snapshot
	Err      error
}

// Status summarizes the indexer state for health and API responses.
type Status struct {
	Ready       bool      `json:"ready"`
	Building    bool      `json:"building"`
	Generation  uint64    `json:"generation"`
	BuiltAt     time.Time `json:"built_at,omitzero"`
	EventCount  int       `json:"event_count"`
	TrackCount  int       `json:"track_count"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

type waiter struct {
	ctx context.Context
	ch  chan Result
}

// Indexer owns the current tracks index.
type Indexer struct {
	provider schedule.Provider
	opts     []tracks.Option
	clock    clock.Clock

	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	building    bool
	waiters     []waiter
	subscribers []func(*Snapshot)
	generation  uint64
	lastAttempt time.Time
	lastErr     error
}

// New returns an Indexer that loads events from provider and builds with
// opts. Nothing is built until Rebuild is called.
func New(provider schedule.Provider, clk clock.Clock, opts ...tracks.Option) *Indexer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Indexer{
		provider: provider,
		opts:     opts,
		clock:    clk,
	}
}

// Current returns the published snapshot, or nil before the first
// successful build.
func (x *Indexer) Current() *Snapshot {
	return x.current.Load()
}

// Subscribe registers fn to run after every publish, with the new
// snapshot. Subscribers run on the build goroutine, in registration order,
// before the Rebuild results are delivered.
func (x *Indexer) Subscribe(fn func(*Snapshot)) {
	x.mu.Lock()
	x.subscribers = append(x.subscribers, fn)
	x.mu.Unlock()
}

// Rebuild loads the schedule and builds a new index off the calling
// goroutine. The returned channel yields exactly one Result and is then
// closed.
//
// Requests made while a build is running are coalesced into a single
// follow-up build, so each caller's result reflects the schedule as it was
// at or after its request. A build is canceled only when the contexts of
// all requests it serves are done.
func (x *Indexer) Rebuild(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)

	x.mu.Lock()
	x.waiters = append(x.waiters, waiter{ctx: ctx, ch: ch})
	if x.building {
		x.mu.Unlock()
		return ch
	}
	x.building = true
	x.mu.Unlock()

	go x.loop()
	return ch
}

func (x *Indexer) loop() {
	for {
		x.mu.Lock()
		batch := x.waiters
		x.waiters = nil
		if len(batch) == 0 {
			x.building = false
			x.mu.Unlock()
			return
		}
		x.mu.Unlock()

		ctx, release := batchContext(batch)
		res := x.build(ctx)
		release()
		for _, w := range batch {
			w.ch <- res
			close(w.ch)
		}
	}
}

// batchContext returns the context a coalesced build runs with. It carries
// the values of the first waiter and is canceled only once every waiter's
// context is done, so one caller giving up does not fail the others.
func batchContext(batch []waiter) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(batch[0].ctx))

	pending := make([]context.Context, 0, len(batch))
	for _, w := range batch {
		if w.ctx.Err() == nil {
			pending = append(pending, w.ctx)
		}
	}
	if len(pending) == 0 {
		cancel()
	}

	// live is set before any AfterFunc can run.
	var live atomic.Int32
	live.Store(int32(len(pending)))
	stops := make([]func() bool, 0, len(pending))
	for _, wctx := range pending {
		stops = append(stops, context.AfterFunc(wctx, func() {
			if live.Add(-1) == 0 {
				cancel()
			}
		}))
	}

	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel()
	}
}

func (x *Indexer) build(ctx context.Context) Result {
	started := x.clock.Now()
	begin := time.Now()

	snap, err := x.load(ctx, started)

	x.mu.Lock()
	x.lastAttempt = started
	x.lastErr = err
	subs := x.subscribers
	x.mu.Unlock()

	if err != nil {
		appLog.Error("tracks index build failed", err, "kept_generation", x.generationOf(x.Current()))
		return Result{Err: err}
	}

	x.current.Store(snap)
	appLog.Info("tracks index published",
		"generation", snap.Generation,
		"event_count", snap.Index.EventCount(),
		"track_count", len(snap.Index.Tracks()),
		"took", time.Since(begin),
	)

	for _, fn := range subs {
		fn(snap)
	}
	return Result{Snapshot: snap}
}

func (x *Indexer) load(ctx context.Context, now time.Time) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, err := x.provider.Events(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := tracks.Build(events, x.opts...)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	x.generation++
	gen := x.generation
	x.mu.Unlock()

	return &Snapshot{Index: idx, BuiltAt: now, Generation: gen}, nil
}

func (x *Indexer) generationOf(s *Snapshot) uint64 {
	if s == nil {
		return 0
	}
	return s.Generation
}

// Status reports the current snapshot and the outcome of the last build.
func (x *Indexer) Status() Status {
	snap := x.Current()

	x.mu.Lock()
	st := Status{
		Building:    x.building,
		LastAttempt: x.lastAttempt,
	}
	if x.lastErr != nil {
		st.LastError = x.lastErr.Error()
	}
	x.mu.Unlock()

	if snap != nil {
		st.Ready = true
		st.Generation = snap.Generation
		st.BuiltAt = snap.BuiltAt
		st.EventCount = snap.Index.EventCount()
		st.TrackCount = len(snap.Index.Tracks())
	}
	return st
}

// Await waits for the result of a Rebuild call or for ctx to be done.
func Await(ctx context.Context, ch <-chan Result) (*Snapshot, error) {
	select {
	case res := <-ch:
		return res.Snapshot, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
