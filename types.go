package nagare

import "time"

// Status is the lifecycle state of a run or step.
//
//	QUEUED -> RUNNING -> WAITING -> RUNNING   (waiting is resumable)
//	RUNNING -> COMPLETED                      (terminal)
//	RUNNING -> FAILED                         (terminal)
//	QUEUED  -> FAILED                         (cancelled before starting)
//
// Transitions outside this table are rejected and recorded as anomalies.
// ERROR events are the one exception: they force FAILED from any
// non-terminal state.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunType categorizes a run.
type RunType string

const (
	RunTypeReview    RunType = "review"
	RunTypeResolve   RunType = "resolve"
	RunTypeBuild     RunType = "build"
	RunTypeRAGIngest RunType = "rag_ingest"
	RunTypeRAGEval   RunType = "rag_eval"
)

// EventType is the category of an event envelope. The set is open-ended;
// unknown types flow through as domain events.
type EventType string

const (
	EventStatus           EventType = "STATUS"
	EventError            EventType = "ERROR"
	EventThinking         EventType = "THINKING"
	EventToolCall         EventType = "TOOL_CALL"
	EventRouterDecision   EventType = "ROUTER_DECISION"
	EventRAGRetrieval     EventType = "RAG_RETRIEVAL"
	EventEvidenceLinked   EventType = "EVIDENCE_LINKED"
	EventReportGeneration EventType = "REPORT_GENERATION"
)

// Envelope is the public view of one normalized event. Payload is opaque:
// its semantics depend on Type, and new event kinds appear without schema
// changes, so treat it as JSON, not as a typed structure.
type Envelope struct {
	Version   int            `json:"version"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	Explain   string         `json:"explain,omitempty"`
}

// Run is a read-only snapshot of one materialized run. Snapshots are deep
// copies — mutating one never affects engine state.
type Run struct {
	ID         string     `json:"run_id"`
	Type       RunType    `json:"type,omitempty"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"start_time"`
	EndedAt    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Steps      []Step     `json:"steps"`
	Events     []Envelope `json:"events"`
}

// Step is a read-only snapshot of one step within a run.
type Step struct {
	ID         string         `json:"step_id"`
	Name       string         `json:"name,omitempty"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"start_time"`
	EndedAt    *time.Time     `json:"end_time,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	ToolUsed   string         `json:"tool_used,omitempty"`
	ModelUsed  string         `json:"model_used,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
}

// ConnState is the binary connectivity signal.
type ConnState string

const (
	ConnConnected    ConnState = "CONNECTED"
	ConnDisconnected ConnState = "DISCONNECTED"
)

// Connectivity is the live transport health signal. Connectivity loss is a
// normal, recoverable state, not an error.
type Connectivity struct {
	State            ConnState `json:"state"`
	ReconnectAttempt int       `json:"reconnect_attempt"`
}

// Anomaly records a rejected status transition.
type Anomaly struct {
	RunID    string    `json:"run_id"`
	StepID   string    `json:"step_id,omitempty"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Sequence int64     `json:"sequence"`
	At       time.Time `json:"at"`
}

// ProviderStatus is one entry of the provider health read model.
type ProviderStatus struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// ProviderHealth is the cached provider health snapshot. FetchedAt is the
// poll time; staleness up to the poll interval is expected.
type ProviderHealth struct {
	Providers []ProviderStatus `json:"providers"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// CallRecord is one entry of the provider call history read model.
type CallRecord struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// CallHistory is the cached call history snapshot.
type CallHistory struct {
	Calls     []CallRecord `json:"calls"`
	FetchedAt time.Time    `json:"fetched_at"`
}
