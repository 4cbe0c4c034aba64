package model

import (
	"strconv"
	"time"
)

// EventType is the category of an event envelope. The set is open-ended:
// dispatch logic switches on the known constants, but unknown types still
// flow through the pipeline as domain events with opaque payloads.
type EventType string

const (
	EventStatus EventType = "STATUS"
	EventError  EventType = "ERROR"

	// Domain events. Payload semantics depend on the type; the engine treats
	// them uniformly (payload merge + raw event log append).
	EventThinking         EventType = "THINKING"
	EventToolCall         EventType = "TOOL_CALL"
	EventRouterDecision   EventType = "ROUTER_DECISION"
	EventRAGRetrieval     EventType = "RAG_RETRIEVAL"
	EventEvidenceLinked   EventType = "EVIDENCE_LINKED"
	EventReportGeneration EventType = "REPORT_GENERATION"
)

// NormalizeEventType upper-cases a wire event type string.
func NormalizeEventType(raw string) EventType {
	return EventType(upper(raw))
}

// Envelope is an immutable fact about something that happened in a run.
// Envelopes are never mutated after decoding; consumers receive copies.
type Envelope struct {
	// Version is the wire schema version, carried for forward compatibility.
	Version int `json:"version"`

	// Sequence is a locally assigned arrival-order proxy: backfill items get
	// their 1-based page index, live items continue from a monotonic counter.
	// It is NOT a causal order guarantee — ordering within a (run, step) pair
	// relies on Timestamp.
	Sequence int64 `json:"sequence"`

	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`

	// StepID is empty for stepless events. The wire sentinel "unknown" is
	// normalized to empty at decode time.
	StepID string `json:"step_id,omitempty"`

	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload"`

	// Explain is an optional human-readable rationale ("why" text).
	Explain string `json:"explain,omitempty"`
}

// DedupKey is the composite identity used to collapse duplicate observations
// of the same event across backfill and live tail. Live envelopes carry no
// stable cross-source id, so this is a best-effort composite, not a
// cryptographic guarantee.
func (e Envelope) DedupKey() string {
	return e.RunID + "\x1f" + e.StepID + "\x1f" + string(e.Type) + "\x1f" +
		strconv.FormatInt(e.Timestamp.UnixNano(), 10)
}

// PayloadString returns a string payload field, or "" when absent or not a
// string.
func (e Envelope) PayloadString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
