package bus

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/materialize"
	"github.com/ashita-ai/nagare/internal/model"
)

func testRuns() ([]model.Run, func(id string) (model.Run, bool)) {
	runs := []model.Run{
		{ID: "r1", Status: model.StatusRunning},
		{ID: "r2", Status: model.StatusQueued},
	}
	detail := func(id string) (model.Run, bool) {
		for _, r := range runs {
			if r.ID == id {
				return r, true
			}
		}
		return model.Run{}, false
	}
	return runs, detail
}

func TestNotifyDeltaRouting(t *testing.T) {
	b := New(slog.Default())
	runs, detail := testRuns()

	var gotList []model.Run
	b.SubscribeRuns(func(rs []model.Run) { gotList = rs })

	var gotR1 []string
	b.SubscribeRun("r1", func(r model.Run) { gotR1 = append(gotR1, r.ID) })

	var gotR2 []string
	b.SubscribeRun("r2", func(r model.Run) { gotR2 = append(gotR2, r.ID) })

	b.NotifyDelta(materialize.Delta{ChangedRuns: []string{"r1"}}, runs, detail)

	require.Len(t, gotList, 2, "list subscribers see every delta")
	assert.Equal(t, []string{"r1"}, gotR1)
	assert.Empty(t, gotR2, "detail subscribers only fire for their run")
}

func TestNotifyDeltaEmpty(t *testing.T) {
	b := New(slog.Default())
	runs, detail := testRuns()

	called := false
	b.SubscribeRuns(func([]model.Run) { called = true })

	b.NotifyDelta(materialize.Delta{}, runs, detail)
	assert.False(t, called, "empty deltas do not fan out")
}

func TestNotifyDeltaSkipsUnresolvableRun(t *testing.T) {
	b := New(slog.Default())
	runs, detail := testRuns()

	called := false
	b.SubscribeRun("gone", func(model.Run) { called = true })

	b.NotifyDelta(materialize.Delta{ChangedRuns: []string{"gone"}}, runs, detail)
	assert.False(t, called, "a run the view no longer holds is skipped")
}

func TestUnsubscribe(t *testing.T) {
	b := New(slog.Default())
	runs, detail := testRuns()

	count := 0
	id := b.SubscribeRuns(func([]model.Run) { count++ })

	b.NotifyDelta(materialize.Delta{ChangedRuns: []string{"r1"}}, runs, detail)
	b.Unsubscribe(id)
	b.Unsubscribe(id) // second cancel is a no-op
	b.NotifyDelta(materialize.Delta{ChangedRuns: []string{"r1"}}, runs, detail)

	assert.Equal(t, 1, count)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New(slog.Default())
	runs, detail := testRuns()

	b.SubscribeRuns(func([]model.Run) { panic("subscriber bug") })

	survived := false
	b.SubscribeRuns(func([]model.Run) { survived = true })

	require.NotPanics(t, func() {
		b.NotifyDelta(materialize.Delta{ChangedRuns: []string{"r1"}}, runs, detail)
	})
	assert.True(t, survived, "other subscribers still receive the batch")
}

func TestNotifyConnectivity(t *testing.T) {
	b := New(slog.Default())

	var got []model.Connectivity
	b.SubscribeConnectivity(func(c model.Connectivity) { got = append(got, c) })

	b.NotifyConnectivity(model.Connectivity{State: model.ConnConnected})
	b.NotifyConnectivity(model.Connectivity{State: model.ConnDisconnected, ReconnectAttempt: 2})

	require.Len(t, got, 2)
	assert.Equal(t, model.ConnConnected, got[0].State)
	assert.Equal(t, 2, got[1].ReconnectAttempt)
}
