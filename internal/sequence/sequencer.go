// Package sequence produces a single deduplicated, ordered stream of event
// envelopes from two overlapping sources: a one-shot REST backfill page and
// the ongoing live feed.
package sequence

import (
	"container/list"
	"sort"

	"github.com/ashita-ai/nagare/internal/model"
)

// DefaultDedupCapacity bounds the recency set of dedup keys.
const DefaultDedupCapacity = 2000

// Sequencer collapses duplicate observations of the same event (backfill and
// live tail can overlap in time) and orders envelopes within a batch so that
// events for the same (run, step) pair are forwarded in non-decreasing
// timestamp order. Across distinct runs or steps no ordering guarantee is
// made — the materializer is commutative there.
//
// Sequencer is not safe for concurrent use; it is owned by the reconcile
// loop, which is the only writer.
type Sequencer struct {
	capacity int
	seen     map[string]*list.Element
	recency  *list.List // front = most recent, values are dedup keys

	duplicates int64
}

// New creates a Sequencer with the given dedup recency capacity.
// Non-positive capacity falls back to DefaultDedupCapacity.
func New(capacity int) *Sequencer {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Sequencer{
		capacity: capacity,
		seen:     make(map[string]*list.Element, capacity),
		recency:  list.New(),
	}
}

// Admit filters and orders a batch of decoded envelopes. Duplicates (same
// dedup key seen before) are discarded silently — first-seen wins, so a
// backfilled event suppresses its live-tail twin. Surviving envelopes for
// the same (run, step) pair are reordered in place to non-decreasing
// timestamp order; envelope positions across distinct pairs are left alone,
// which preserves run discovery order.
func (s *Sequencer) Admit(batch []model.Envelope) []model.Envelope {
	out := make([]model.Envelope, 0, len(batch))
	for _, env := range batch {
		key := env.DedupKey()
		if el, ok := s.seen[key]; ok {
			s.recency.MoveToFront(el)
			s.duplicates++
			continue
		}
		s.remember(key)
		out = append(out, env)
	}

	orderWithinPairs(out)
	return out
}

// orderWithinPairs sorts each (run, step) group's envelopes by timestamp,
// writing them back into the group's original positions.
func orderWithinPairs(envs []model.Envelope) {
	groups := make(map[string][]int)
	for i, env := range envs {
		k := env.RunID + "\x1f" + env.StepID
		groups[k] = append(groups[k], i)
	}
	for _, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		members := make([]model.Envelope, len(idx))
		for i, pos := range idx {
			members[i] = envs[pos]
		}
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Timestamp.Before(members[j].Timestamp)
		})
		for i, pos := range idx {
			envs[pos] = members[i]
		}
	}
}

// Duplicates returns the total number of envelopes discarded as duplicates.
func (s *Sequencer) Duplicates() int64 {
	return s.duplicates
}

// remember records a dedup key, evicting the least recently seen key once
// the recency set is full. Bounding the set bounds memory; the cost is that
// a duplicate arriving after eviction is no longer detected, which is
// acceptable for the backfill/live overlap window this set exists to cover.
func (s *Sequencer) remember(key string) {
	el := s.recency.PushFront(key)
	s.seen[key] = el
	if s.recency.Len() > s.capacity {
		oldest := s.recency.Back()
		s.recency.Remove(oldest)
		delete(s.seen, oldest.Value.(string))
	}
}
