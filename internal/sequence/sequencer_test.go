package sequence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/model"
)

func env(run, step string, typ model.EventType, ts time.Time) model.Envelope {
	return model.Envelope{RunID: run, StepID: step, Type: typ, Timestamp: ts}
}

func TestAdmitDeduplicates(t *testing.T) {
	s := New(0)
	base := time.Unix(1756700000, 0).UTC()

	backfill := []model.Envelope{
		env("r1", "s1", model.EventStatus, base),
		env("r1", "s1", model.EventToolCall, base.Add(time.Second)),
	}
	out := s.Admit(backfill)
	require.Len(t, out, 2)

	// The live tail replays the second event, then adds a genuinely new one.
	live := []model.Envelope{
		env("r1", "s1", model.EventToolCall, base.Add(time.Second)),
		env("r1", "s1", model.EventStatus, base.Add(2*time.Second)),
	}
	out = s.Admit(live)
	require.Len(t, out, 1)
	assert.Equal(t, base.Add(2*time.Second), out[0].Timestamp)
	assert.Equal(t, int64(1), s.Duplicates())
}

func TestAdmitReplayIsIdempotent(t *testing.T) {
	s := New(0)
	base := time.Unix(1756700000, 0).UTC()

	batch := []model.Envelope{
		env("r1", "", model.EventStatus, base),
		env("r1", "s1", model.EventToolCall, base.Add(time.Second)),
		env("r2", "", model.EventStatus, base.Add(2*time.Second)),
	}

	first := s.Admit(batch)
	require.Len(t, first, 3)

	second := s.Admit(batch)
	assert.Empty(t, second, "replaying an already-admitted batch yields nothing")
	assert.Equal(t, int64(3), s.Duplicates())
}

func TestAdmitOrdersWithinPair(t *testing.T) {
	s := New(0)
	base := time.Unix(1756700000, 0).UTC()

	// Same (run, step) pair arrives out of timestamp order; an interleaved
	// event for another run must keep its slot.
	batch := []model.Envelope{
		env("r1", "s1", model.EventToolCall, base.Add(2*time.Second)),
		env("r2", "", model.EventStatus, base.Add(time.Second)),
		env("r1", "s1", model.EventStatus, base),
	}
	out := s.Admit(batch)
	require.Len(t, out, 3)

	assert.Equal(t, base, out[0].Timestamp, "earliest r1/s1 event moved first")
	assert.Equal(t, "r2", out[1].RunID, "unrelated run keeps its position")
	assert.Equal(t, base.Add(2*time.Second), out[2].Timestamp)
}

func TestAdmitPreservesRunDiscoveryOrder(t *testing.T) {
	s := New(0)
	base := time.Unix(1756700000, 0).UTC()

	batch := []model.Envelope{
		env("zeta", "", model.EventStatus, base.Add(time.Second)),
		env("alpha", "", model.EventStatus, base),
	}
	out := s.Admit(batch)
	require.Len(t, out, 2)
	assert.Equal(t, "zeta", out[0].RunID, "cross-run order is arrival order, not timestamp order")
	assert.Equal(t, "alpha", out[1].RunID)
}

func TestDedupCapacityEviction(t *testing.T) {
	s := New(3)
	base := time.Unix(1756700000, 0).UTC()

	first := env("r1", "", model.EventStatus, base)
	s.Admit([]model.Envelope{first})

	// Push three more distinct keys; the first key falls off the recency set.
	for i := 1; i <= 3; i++ {
		s.Admit([]model.Envelope{env(fmt.Sprintf("r%d", i+1), "", model.EventStatus, base.Add(time.Duration(i)*time.Second))})
	}

	out := s.Admit([]model.Envelope{first})
	assert.Len(t, out, 1, "an evicted key is no longer detected as a duplicate")
}
