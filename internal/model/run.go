package model

import "time"

// RunType categorizes a run. The known values mirror the producer's
// vocabulary; unrecognized values are preserved as-is.
type RunType string

const (
	RunTypeReview    RunType = "review"
	RunTypeResolve   RunType = "resolve"
	RunTypeBuild     RunType = "build"
	RunTypeRAGIngest RunType = "rag_ingest"
	RunTypeRAGEval   RunType = "rag_eval"
)

// Run is the materialized view of a top-level unit of work. Runs are created
// implicitly on the first event referencing an unseen run id and are owned
// exclusively by the materializer; everyone else sees clones.
type Run struct {
	ID         string     `json:"run_id"`
	Type       RunType    `json:"type,omitempty"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"start_time"`
	EndedAt    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`

	// Steps in discovery order: the first event referencing a new step id
	// appends it.
	Steps []*Step `json:"steps"`

	// Events is the bounded raw event log for the run, oldest first.
	Events []Envelope `json:"events"`
}

// Step is a named phase of a run with its own status lifecycle. A step
// cannot outlive or be reparented away from its run.
type Step struct {
	ID         string     `json:"step_id"`
	Name       string     `json:"name,omitempty"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"start_time"`
	EndedAt    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`

	ToolUsed  string `json:"tool_used,omitempty"`
	ModelUsed string `json:"model_used,omitempty"`

	// Inputs and Outputs are additive key merges of event payloads,
	// last-write-wins per key.
	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Step returns the step with the given id, or nil.
func (r *Run) Step(id string) *Step {
	for _, s := range r.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy of the run safe to hand to subscribers. Nested
// payload values are shared; top-level maps and slices are copied.
func (r *Run) Clone() Run {
	out := *r
	out.Steps = make([]*Step, len(r.Steps))
	for i, s := range r.Steps {
		cs := *s
		cs.Inputs = cloneMap(s.Inputs)
		cs.Outputs = cloneMap(s.Outputs)
		if s.EndedAt != nil {
			t := *s.EndedAt
			cs.EndedAt = &t
		}
		out.Steps[i] = &cs
	}
	out.Events = make([]Envelope, len(r.Events))
	copy(out.Events, r.Events)
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConnState is the binary connectivity signal for the live transport.
type ConnState string

const (
	ConnConnected    ConnState = "CONNECTED"
	ConnDisconnected ConnState = "DISCONNECTED"
)

// Connectivity is the process-wide transport health signal.
type Connectivity struct {
	State ConnState `json:"state"`

	// ReconnectAttempt counts consecutive failed connection attempts.
	// Reset to 0 on successful connect.
	ReconnectAttempt int `json:"reconnect_attempt"`
}

// Anomaly records a rejected status transition. Anomalies are observability
// signals, not user-facing errors: the offending envelope's status is
// ignored and processing continues.
type Anomaly struct {
	RunID    string    `json:"run_id"`
	StepID   string    `json:"step_id,omitempty"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Sequence int64     `json:"sequence"`
	At       time.Time `json:"at"`
}
