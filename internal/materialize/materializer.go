// Package materialize folds ordered, deduplicated event envelopes into the
// denormalized Run/Step view that consumers read from.
//
// The materializer owns the run map, step sequences, and per-run raw event
// logs exclusively. All mutation flows through Apply on the reconcile loop;
// reads take the internal lock and return deep copies, so no caller ever
// observes a partially applied batch.
package materialize

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/nagare/internal/model"
)

const (
	// DefaultEventLogCap bounds the per-run raw event log.
	DefaultEventLogCap = 5000

	// anomalyLogCap bounds the retained anomaly records. The total count
	// keeps incrementing past the cap.
	anomalyLogCap = 256
)

// Delta is the minimal set of run ids changed by one Apply batch. The bus
// uses it to notify only matching subscriptions.
type Delta struct {
	ChangedRuns []string
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool { return len(d.ChangedRuns) == 0 }

// Materializer maintains the materialized Run/Step view.
type Materializer struct {
	logger      *slog.Logger
	eventLogCap int
	runCap      int // 0 = unbounded

	mu           sync.RWMutex
	runs         map[string]*model.Run
	order        []string // run discovery order
	anomalies    []model.Anomaly
	anomalyCount int64
}

// New creates an empty materializer. eventLogCap and runCap of 0 select the
// defaults (5000 events per run, unbounded runs).
func New(logger *slog.Logger, eventLogCap, runCap int) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	if eventLogCap <= 0 {
		eventLogCap = DefaultEventLogCap
	}
	return &Materializer{
		logger:      logger,
		eventLogCap: eventLogCap,
		runCap:      runCap,
		runs:        make(map[string]*model.Run),
	}
}

// Apply folds a batch of envelopes into the view and returns the ids of the
// runs it changed, in first-touch order. Envelopes are applied in slice
// order; the batch is visible to readers only once Apply returns.
func (m *Materializer) Apply(batch []model.Envelope) Delta {
	if len(batch) == 0 {
		return Delta{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var delta Delta
	touched := make(map[string]struct{}, len(batch))
	for _, env := range batch {
		m.apply(env)
		if _, ok := touched[env.RunID]; !ok {
			touched[env.RunID] = struct{}{}
			delta.ChangedRuns = append(delta.ChangedRuns, env.RunID)
		}
	}
	m.evictRuns()
	return delta
}

func (m *Materializer) apply(env model.Envelope) {
	run := m.resolveRun(env)
	var step *model.Step
	if env.StepID != "" {
		step = m.resolveStep(run, env)
	}

	switch env.Type {
	case model.EventStatus:
		m.applyStatus(run, step, env)
	case model.EventError:
		// ERROR is the documented exception to monotonicity: failure must
		// always be representable, so it forces FAILED from any non-terminal
		// state instead of being rejected as an illegal transition.
		m.applyError(run, step, env)
		m.mergePayload(step, env)
	default:
		m.mergePayload(step, env)
	}

	// Every envelope lands in the raw log, STATUS included — the log is the
	// record of what was observed, and the dedup upstream already collapsed
	// backfill/live twins.
	m.appendEvent(run, env)
}

// resolveRun finds or implicitly creates the run for an envelope. A run must
// exist before any step or domain event can attach to it, so the first
// sighting of a run id creates a QUEUED run stamped with that event's
// timestamp even when the event is not a STATUS event.
func (m *Materializer) resolveRun(env model.Envelope) *model.Run {
	if run, ok := m.runs[env.RunID]; ok {
		return run
	}
	run := &model.Run{
		ID:        env.RunID,
		Type:      model.RunType(env.PayloadString("run_type")),
		Status:    model.StatusQueued,
		StartedAt: env.Timestamp,
	}
	m.runs[env.RunID] = run
	m.order = append(m.order, env.RunID)
	return run
}

// resolveStep finds or creates the step for an envelope, preserving
// discovery order within the run.
func (m *Materializer) resolveStep(run *model.Run, env model.Envelope) *model.Step {
	if step := run.Step(env.StepID); step != nil {
		return step
	}
	name := env.PayloadString("name")
	if name == "" {
		name = env.StepID
	}
	step := &model.Step{
		ID:        env.StepID,
		Name:      name,
		Status:    model.StatusQueued,
		StartedAt: env.Timestamp,
	}
	run.Steps = append(run.Steps, step)
	return step
}

// applyStatus attempts the proposed transition on the step when the envelope
// addresses one, otherwise on the run. An illegal transition leaves the
// status untouched and is recorded as an anomaly; either way the envelope's
// non-status payload fields are still merged.
func (m *Materializer) applyStatus(run *model.Run, step *model.Step, env model.Envelope) {
	proposed, ok := model.ParseStatus(env.PayloadString("status"))
	if !ok {
		m.logger.Debug("materialize: status event without usable status", "run_id", env.RunID, "step_id", env.StepID)
		m.mergePayload(step, env)
		return
	}

	if step != nil {
		m.transitionStep(run, step, proposed, env)
	} else {
		m.transitionRun(run, proposed, env)
	}
	m.mergePayload(step, env)
}

func (m *Materializer) transitionRun(run *model.Run, to model.Status, env model.Envelope) {
	if !model.CanTransition(run.Status, to) {
		m.recordAnomaly(env, run.Status, to)
		return
	}
	if run.Status == to {
		return
	}
	setTransitionTimes(&run.StartedAt, &run.EndedAt, &run.DurationMs, run.Status, to, env.Timestamp)
	run.Status = to
}

func (m *Materializer) transitionStep(run *model.Run, step *model.Step, to model.Status, env model.Envelope) {
	if !model.CanTransition(step.Status, to) {
		m.recordAnomaly(env, step.Status, to)
		return
	}
	if step.Status == to {
		return
	}
	setTransitionTimes(&step.StartedAt, &step.EndedAt, &step.DurationMs, step.Status, to, env.Timestamp)
	step.Status = to

	// A step entering RUNNING drags a still-queued run along with it; the
	// producer does not always emit a run-level RUNNING first.
	if to == model.StatusRunning && run.Status == model.StatusQueued {
		setTransitionTimes(&run.StartedAt, &run.EndedAt, &run.DurationMs, run.Status, to, env.Timestamp)
		run.Status = model.StatusRunning
	}
}

// applyError forces FAILED on the addressed step (and its run when the run
// is also non-terminal) or on the run for stepless errors. Terminal states
// stay terminal.
func (m *Materializer) applyError(run *model.Run, step *model.Step, env model.Envelope) {
	if step != nil && !step.Status.Terminal() {
		setTransitionTimes(&step.StartedAt, &step.EndedAt, &step.DurationMs, step.Status, model.StatusFailed, env.Timestamp)
		step.Status = model.StatusFailed
	}
	if !run.Status.Terminal() {
		setTransitionTimes(&run.StartedAt, &run.EndedAt, &run.DurationMs, run.Status, model.StatusFailed, env.Timestamp)
		run.Status = model.StatusFailed
	}
}

// setTransitionTimes applies the time bookkeeping of a successful
// transition: entering RUNNING stamps the start time (first entry only);
// entering a terminal state stamps the end time and derives duration.
func setTransitionTimes(started *time.Time, ended **time.Time, durationMs *int64, from, to model.Status, at time.Time) {
	if to == model.StatusRunning && from == model.StatusQueued {
		*started = at
	}
	if to.Terminal() {
		t := at
		*ended = &t
		*durationMs = t.Sub(*started).Milliseconds()
	}
}

// mergePayload folds a domain event's payload into the step's input/output
// snapshots, additive per key, last-write-wins. Stepless domain events have
// nothing to merge into; their payload still lands in the raw event log.
func (m *Materializer) mergePayload(step *model.Step, env model.Envelope) {
	if step == nil || len(env.Payload) == 0 {
		return
	}
	for key, val := range env.Payload {
		switch key {
		case "step", "step_id", "name", "status", "run_type":
			// Addressing and status-machine fields, not step data.
		case "input", "inputs":
			step.Inputs = mergeInto(step.Inputs, val)
		case "output", "outputs", "result":
			step.Outputs = mergeInto(step.Outputs, val)
		case "tool":
			step.ToolUsed = firstNonEmpty(asString(val), step.ToolUsed)
		case "model":
			step.ModelUsed = firstNonEmpty(asString(val), step.ModelUsed)
		default:
			if step.Outputs == nil {
				step.Outputs = make(map[string]any)
			}
			step.Outputs[key] = val
		}
	}
}

// mergeInto merges val into dst: nested maps merge key-by-key, scalars land
// under "value".
func mergeInto(dst map[string]any, val any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	if nested, ok := val.(map[string]any); ok {
		for k, v := range nested {
			dst[k] = v
		}
		return dst
	}
	dst["value"] = val
	return dst
}

// appendEvent appends the envelope verbatim to the run's bounded raw event
// log, evicting oldest-first past the cap.
func (m *Materializer) appendEvent(run *model.Run, env model.Envelope) {
	run.Events = append(run.Events, env)
	if over := len(run.Events) - m.eventLogCap; over > 0 {
		run.Events = append(run.Events[:0:0], run.Events[over:]...)
	}
}

func (m *Materializer) recordAnomaly(env model.Envelope, from, to model.Status) {
	m.anomalyCount++
	if len(m.anomalies) < anomalyLogCap {
		m.anomalies = append(m.anomalies, model.Anomaly{
			RunID:    env.RunID,
			StepID:   env.StepID,
			From:     from,
			To:       to,
			Sequence: env.Sequence,
			At:       env.Timestamp,
		})
	}
	m.logger.Warn("materialize: illegal status transition rejected",
		"run_id", env.RunID, "step_id", env.StepID, "from", from, "to", to)
}

// evictRuns drops the oldest runs once the configured cap is exceeded.
// Terminal runs go first; if none are terminal the oldest by discovery
// order goes regardless.
func (m *Materializer) evictRuns() {
	if m.runCap <= 0 {
		return
	}
	for len(m.order) > m.runCap {
		victim := -1
		for i, id := range m.order {
			if m.runs[id].Status.Terminal() {
				victim = i
				break
			}
		}
		if victim == -1 {
			victim = 0
		}
		id := m.order[victim]
		delete(m.runs, id)
		m.order = append(m.order[:victim], m.order[victim+1:]...)
		m.logger.Debug("materialize: run evicted", "run_id", id)
	}
}

// Runs returns deep copies of all runs in discovery order.
func (m *Materializer) Runs() []model.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Run, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.runs[id].Clone())
	}
	return out
}

// Run returns a deep copy of one run.
func (m *Materializer) Run(id string) (model.Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return model.Run{}, false
	}
	return run.Clone(), true
}

// AnomalyCount returns the total number of rejected transitions.
func (m *Materializer) AnomalyCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.anomalyCount
}

// Anomalies returns the retained anomaly records and the total count,
// which keeps counting past the retention cap.
func (m *Materializer) Anomalies() ([]model.Anomaly, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Anomaly, len(m.anomalies))
	copy(out, m.anomalies)
	return out, m.anomalyCount
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
