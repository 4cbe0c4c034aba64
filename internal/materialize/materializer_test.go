package materialize

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/model"
)

var testBase = time.Unix(1756700000, 0).UTC()

func statusEvent(run, step, status string, at time.Time) model.Envelope {
	return model.Envelope{
		RunID:     run,
		StepID:    step,
		Type:      model.EventStatus,
		Timestamp: at,
		Payload:   map[string]any{"status": status},
	}
}

func domainEvent(run, step string, typ model.EventType, payload map[string]any, at time.Time) model.Envelope {
	return model.Envelope{
		RunID:     run,
		StepID:    step,
		Type:      typ,
		Timestamp: at,
		Payload:   payload,
	}
}

func newTest(t *testing.T) *Materializer {
	t.Helper()
	return New(slog.Default(), 0, 0)
}

func TestImplicitRunCreation(t *testing.T) {
	m := newTest(t)

	// A domain event for an unseen run creates the run before attaching.
	delta := m.Apply([]model.Envelope{
		domainEvent("r1", "s1", model.EventThinking, map[string]any{"thought": "hm"}, testBase),
	})
	assert.Equal(t, []string{"r1"}, delta.ChangedRuns)

	run, ok := m.Run("r1")
	require.True(t, ok)
	assert.Equal(t, model.StatusQueued, run.Status)
	assert.Equal(t, testBase, run.StartedAt)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, model.StatusQueued, run.Steps[0].Status)
	assert.Len(t, run.Events, 1)
}

func TestRunLifecycle(t *testing.T) {
	m := newTest(t)

	created := testBase
	started := testBase.Add(2 * time.Second)
	done := testBase.Add(10 * time.Second)

	m.Apply([]model.Envelope{
		statusEvent("r1", "", "queued", created),
		statusEvent("r1", "", "running", started),
		statusEvent("r1", "", "completed", done),
	})

	run, ok := m.Run("r1")
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, run.Status)

	// Start time is re-stamped on entering RUNNING, not left at creation.
	assert.Equal(t, started, run.StartedAt)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, done, *run.EndedAt)
	assert.Equal(t, int64(8000), run.DurationMs)
}

func TestStatusEventsLandInRawLog(t *testing.T) {
	m := newTest(t)

	// The raw log records every observed envelope, STATUS included; a
	// backfilled status event that survives dedup counts exactly once.
	m.Apply([]model.Envelope{
		statusEvent("r1", "s1", "running", testBase),
	})

	run, ok := m.Run("r1")
	require.True(t, ok)
	require.Len(t, run.Events, 1)
	assert.Equal(t, model.EventStatus, run.Events[0].Type)
}

func TestMonotonicStatusRejectsRegression(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "", "running", testBase),
		statusEvent("r1", "", "completed", testBase.Add(time.Second)),
		// Regression after terminal: rejected and recorded, view unchanged.
		statusEvent("r1", "", "running", testBase.Add(2*time.Second)),
	})

	run, _ := m.Run("r1")
	assert.Equal(t, model.StatusCompleted, run.Status)

	anomalies, total := m.Anomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.StatusCompleted, anomalies[0].From)
	assert.Equal(t, model.StatusRunning, anomalies[0].To)
}

func TestWaitingRoundTrip(t *testing.T) {
	m := newTest(t)

	started := testBase
	m.Apply([]model.Envelope{
		statusEvent("r1", "s1", "running", started),
		statusEvent("r1", "s1", "waiting", testBase.Add(time.Second)),
		statusEvent("r1", "s1", "running", testBase.Add(2*time.Second)),
		statusEvent("r1", "s1", "completed", testBase.Add(3*time.Second)),
	})

	run, _ := m.Run("r1")
	step := run.Step("s1")
	require.NotNil(t, step)
	assert.Equal(t, model.StatusCompleted, step.Status)
	assert.Equal(t, started, step.StartedAt, "WAITING round-trip must not re-stamp the start time")
	assert.Equal(t, int64(3000), step.DurationMs)
}

func TestStepRunningDragsQueuedRun(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "plan", "running", testBase),
	})

	run, _ := m.Run("r1")
	assert.Equal(t, model.StatusRunning, run.Status, "a running step implies a running run")
	assert.Equal(t, testBase, run.StartedAt)
}

func TestErrorForcesFailed(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "s1", "running", testBase),
		{
			RunID:     "r1",
			StepID:    "s1",
			Type:      model.EventError,
			Timestamp: testBase.Add(time.Second),
			Payload:   map[string]any{"output": map[string]any{"error": "boom"}},
			Explain:   "tool exploded",
		},
	})

	run, _ := m.Run("r1")
	assert.Equal(t, model.StatusFailed, run.Status)
	step := run.Step("s1")
	assert.Equal(t, model.StatusFailed, step.Status)
	require.NotNil(t, step.EndedAt)

	// The forced transition is in addition to the payload merge, not
	// instead of it.
	assert.Equal(t, "boom", step.Outputs["error"])

	// ERROR bypasses the transition table, so no anomaly is recorded.
	_, total := m.Anomalies()
	assert.Zero(t, total)
}

func TestErrorFailsWaitingStep(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "s1", "running", testBase),
		statusEvent("r1", "s1", "waiting", testBase.Add(time.Second)),
		{
			RunID:     "r1",
			StepID:    "s1",
			Type:      model.EventError,
			Timestamp: testBase.Add(2 * time.Second),
			Payload:   map[string]any{"error": "timed out"},
		},
	})

	run, _ := m.Run("r1")
	assert.Equal(t, model.StatusFailed, run.Step("s1").Status,
		"ERROR reaches FAILED from WAITING even though no plain-status edge exists")
}

func TestWaitingCannotFailByStatus(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "s1", "running", testBase),
		statusEvent("r1", "s1", "waiting", testBase.Add(time.Second)),
		statusEvent("r1", "s1", "failed", testBase.Add(2*time.Second)),
	})

	run, _ := m.Run("r1")
	assert.Equal(t, model.StatusWaiting, run.Step("s1").Status)

	anomalies, total := m.Anomalies()
	require.Equal(t, int64(1), total)
	assert.Equal(t, model.StatusWaiting, anomalies[0].From)
	assert.Equal(t, model.StatusFailed, anomalies[0].To)
}

func TestRejectedTransitionStillMergesPayload(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "s1", "running", testBase),
		statusEvent("r1", "s1", "completed", testBase.Add(time.Second)),
		{
			RunID:     "r1",
			StepID:    "s1",
			Type:      model.EventStatus,
			Timestamp: testBase.Add(2 * time.Second),
			Payload: map[string]any{
				"status": "running",
				"output": map[string]any{"note": "late flush"},
			},
		},
	})

	run, _ := m.Run("r1")
	step := run.Step("s1")
	assert.Equal(t, model.StatusCompleted, step.Status, "the status portion is ignored")
	assert.Equal(t, "late flush", step.Outputs["note"], "the rest of the payload still merges")
	assert.NotContains(t, step.Outputs, "status", "the status field itself is not step data")

	_, total := m.Anomalies()
	assert.Equal(t, int64(1), total)
}

func TestErrorDoesNotReviveTerminalRun(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "", "running", testBase),
		statusEvent("r1", "", "completed", testBase.Add(time.Second)),
		{
			RunID:     "r1",
			Type:      model.EventError,
			Timestamp: testBase.Add(2 * time.Second),
			Payload:   map[string]any{"error": "late"},
		},
	})

	run, _ := m.Run("r1")
	assert.Equal(t, model.StatusCompleted, run.Status, "terminal states stay terminal")
}

func TestPayloadMerge(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		domainEvent("r1", "s1", model.EventToolCall, map[string]any{
			"tool":  "http_get",
			"input": map[string]any{"url": "https://example.com"},
		}, testBase),
		domainEvent("r1", "s1", model.EventToolCall, map[string]any{
			"result": map[string]any{"status": 200},
			"model":  "gpt-x",
		}, testBase.Add(time.Second)),
		domainEvent("r1", "s1", model.EventRAGRetrieval, map[string]any{
			"chunks": 7,
		}, testBase.Add(2*time.Second)),
	})

	run, _ := m.Run("r1")
	step := run.Step("s1")
	require.NotNil(t, step)
	assert.Equal(t, "http_get", step.ToolUsed)
	assert.Equal(t, "gpt-x", step.ModelUsed)
	assert.Equal(t, "https://example.com", step.Inputs["url"])
	assert.Equal(t, 200, step.Outputs["status"])
	assert.Equal(t, 7, step.Outputs["chunks"], "unrecognized payload keys land in outputs")
	assert.Len(t, run.Events, 3)
}

func TestStepDiscoveryOrder(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		statusEvent("r1", "fetch", "running", testBase),
		statusEvent("r1", "analyze", "running", testBase.Add(time.Second)),
		statusEvent("r1", "fetch", "completed", testBase.Add(2*time.Second)),
	})

	run, _ := m.Run("r1")
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "fetch", run.Steps[0].ID)
	assert.Equal(t, "analyze", run.Steps[1].ID)
}

func TestEventLogCap(t *testing.T) {
	m := New(slog.Default(), 3, 0)

	var batch []model.Envelope
	for i := 0; i < 5; i++ {
		batch = append(batch, domainEvent("r1", "", model.EventThinking,
			map[string]any{"i": i}, testBase.Add(time.Duration(i)*time.Second)))
	}
	m.Apply(batch)

	run, _ := m.Run("r1")
	require.Len(t, run.Events, 3, "oldest events are evicted past the cap")
	assert.Equal(t, 2, run.Events[0].Payload["i"])
	assert.Equal(t, 4, run.Events[2].Payload["i"])
}

func TestRunCapEvictsTerminalFirst(t *testing.T) {
	m := New(slog.Default(), 0, 2)

	m.Apply([]model.Envelope{
		statusEvent("r1", "", "running", testBase),
		statusEvent("r2", "", "running", testBase.Add(time.Second)),
		statusEvent("r1", "", "completed", testBase.Add(2*time.Second)),
		statusEvent("r3", "", "running", testBase.Add(3*time.Second)),
	})

	runs := m.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID, "the terminal run goes first, not the oldest")
	assert.Equal(t, "r3", runs[1].ID)
}

func TestRunCapEvictsOldestWhenNoneTerminal(t *testing.T) {
	m := New(slog.Default(), 0, 2)

	for i := 1; i <= 3; i++ {
		m.Apply([]model.Envelope{
			statusEvent(fmt.Sprintf("r%d", i), "", "running", testBase.Add(time.Duration(i)*time.Second)),
		})
	}

	runs := m.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, "r3", runs[1].ID)
}

func TestCrossRunOrderIndependence(t *testing.T) {
	r1 := []model.Envelope{
		statusEvent("r1", "s1", "running", testBase),
		domainEvent("r1", "s1", model.EventToolCall, map[string]any{"tool": "grep"}, testBase.Add(time.Second)),
		statusEvent("r1", "s1", "completed", testBase.Add(2*time.Second)),
	}
	r2 := []model.Envelope{
		statusEvent("r2", "", "running", testBase.Add(500*time.Millisecond)),
		domainEvent("r2", "a", model.EventThinking, map[string]any{"thought": "hm"}, testBase.Add(1500*time.Millisecond)),
		{
			RunID:     "r2",
			Type:      model.EventError,
			Timestamp: testBase.Add(2500 * time.Millisecond),
			Payload:   map[string]any{"error": "gave up"},
		},
	}

	// Same two event sets, several relative orders. Per-run order is
	// preserved in each; only the interleaving across runs varies.
	interleavings := [][]model.Envelope{
		{r1[0], r1[1], r1[2], r2[0], r2[1], r2[2]},
		{r2[0], r2[1], r2[2], r1[0], r1[1], r1[2]},
		{r1[0], r2[0], r1[1], r2[1], r1[2], r2[2]},
		{r2[0], r1[0], r2[1], r1[1], r2[2], r1[2]},
	}

	var wantR1, wantR2 model.Run
	for i, batch := range interleavings {
		m := newTest(t)
		m.Apply(batch)

		gotR1, ok := m.Run("r1")
		require.True(t, ok)
		gotR2, ok := m.Run("r2")
		require.True(t, ok)

		if i == 0 {
			wantR1, wantR2 = gotR1, gotR2
			continue
		}
		assert.Equal(t, wantR1, gotR1, "interleaving %d changed r1's final view", i)
		assert.Equal(t, wantR2, gotR2, "interleaving %d changed r2's final view", i)
	}
}

func TestDeltaReportsFirstTouchOrder(t *testing.T) {
	m := newTest(t)

	delta := m.Apply([]model.Envelope{
		statusEvent("b", "", "running", testBase),
		statusEvent("a", "", "running", testBase.Add(time.Second)),
		statusEvent("b", "", "completed", testBase.Add(2*time.Second)),
	})
	assert.Equal(t, []string{"b", "a"}, delta.ChangedRuns)

	assert.True(t, m.Apply(nil).Empty())
}

func TestReadsReturnCopies(t *testing.T) {
	m := newTest(t)

	m.Apply([]model.Envelope{
		domainEvent("r1", "s1", model.EventToolCall, map[string]any{"input": map[string]any{"k": "v"}}, testBase),
	})

	run, _ := m.Run("r1")
	run.Steps[0].Inputs["k"] = "mutated"
	run.Steps[0].Status = model.StatusFailed

	again, _ := m.Run("r1")
	assert.Equal(t, "v", again.Steps[0].Inputs["k"])
	assert.Equal(t, model.StatusQueued, again.Steps[0].Status)
}
