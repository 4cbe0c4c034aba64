// Package bus fans out materialized-view deltas to subscribers.
//
// Subscribers register for one of three feeds: the full run list, a single
// run's detail, or connectivity. The bus never recomputes views — the
// reconcile loop hands it snapshots — and no subscriber can mutate engine
// state, because snapshots are deep copies.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/nagare/internal/materialize"
	"github.com/ashita-ai/nagare/internal/model"
)

// RunsFunc receives the full run list after a batch that changed any run.
type RunsFunc func(runs []model.Run)

// RunFunc receives one run's updated detail.
type RunFunc func(run model.Run)

// ConnFunc receives connectivity changes.
type ConnFunc func(c model.Connectivity)

type runSub struct {
	runID string
	fn    RunFunc
}

// Bus routes deltas to subscribers. Safe for concurrent subscribe and
// unsubscribe; notification for one batch completes before the next begins
// because only the reconcile loop calls the Notify methods.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	runsSubs map[uuid.UUID]RunsFunc
	runSubs  map[uuid.UUID]runSub
	connSubs map[uuid.UUID]ConnFunc
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		runsSubs: make(map[uuid.UUID]RunsFunc),
		runSubs:  make(map[uuid.UUID]runSub),
		connSubs: make(map[uuid.UUID]ConnFunc),
	}
}

// SubscribeRuns registers for full run list updates. Returns the
// subscription id for Unsubscribe.
func (b *Bus) SubscribeRuns(fn RunsFunc) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.runsSubs[id] = fn
	b.mu.Unlock()
	return id
}

// SubscribeRun registers for one run's detail updates.
func (b *Bus) SubscribeRun(runID string, fn RunFunc) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.runSubs[id] = runSub{runID: runID, fn: fn}
	b.mu.Unlock()
	return id
}

// SubscribeConnectivity registers for connectivity changes.
func (b *Bus) SubscribeConnectivity(fn ConnFunc) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.connSubs[id] = fn
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription of any feed. Unknown ids are a no-op,
// so cancelling twice is safe.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	delete(b.runsSubs, id)
	delete(b.runSubs, id)
	delete(b.connSubs, id)
	b.mu.Unlock()
}

// NotifyDelta fans out one applied batch. List subscribers get the full run
// list; detail subscribers are notified only when their run id is in the
// delta. detail resolves a run id to its current snapshot.
func (b *Bus) NotifyDelta(delta materialize.Delta, list []model.Run, detail func(id string) (model.Run, bool)) {
	if delta.Empty() {
		return
	}

	changed := make(map[string]struct{}, len(delta.ChangedRuns))
	for _, id := range delta.ChangedRuns {
		changed[id] = struct{}{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, fn := range b.runsSubs {
		b.safeCallRuns(fn, list)
	}
	for _, sub := range b.runSubs {
		if _, ok := changed[sub.runID]; !ok {
			continue
		}
		run, ok := detail(sub.runID)
		if !ok {
			continue
		}
		b.safeCallRun(sub.fn, run)
	}
}

// NotifyConnectivity fans out a connectivity change.
func (b *Bus) NotifyConnectivity(c model.Connectivity) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.connSubs {
		b.safeCallConn(fn, c)
	}
}

// A panicking subscriber is isolated: the panic is recovered and logged so
// the remaining subscribers still receive the same batch.

func (b *Bus) safeCallRuns(fn RunsFunc, runs []model.Run) {
	defer b.recoverSubscriber()
	fn(runs)
}

func (b *Bus) safeCallRun(fn RunFunc, run model.Run) {
	defer b.recoverSubscriber()
	fn(run)
}

func (b *Bus) safeCallConn(fn ConnFunc, c model.Connectivity) {
	defer b.recoverSubscriber()
	fn(c)
}

func (b *Bus) recoverSubscriber() {
	if r := recover(); r != nil {
		b.logger.Error("bus: subscriber panicked", "panic", r)
	}
}
