// Package model defines the core domain types for Nagare.
//
// Types are shared by the wire decoder, sequencer, and materializer.
// They use strong typing (time.Time, enums) and avoid interface{} except
// for event payloads, which are deliberately opaque.
package model

// Status represents the lifecycle state of a run or step.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether s is a terminal state. Terminal states never
// transition again, with no exceptions — even ERROR events are no-ops once
// a run or step has completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions is the legal status transition table. WAITING is resumable;
// a run can fail before starting (cancelled while queued). There is no
// WAITING -> FAILED edge: failure from WAITING is reachable only through the
// ERROR exception, which bypasses this table entirely.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusFailed},
	StatusRunning: {StatusWaiting, StatusCompleted, StatusFailed},
	StatusWaiting: {StatusRunning},
}

// CanTransition reports whether moving from one status to another is legal.
// Self-transitions are treated as legal no-ops so repeated STATUS events do
// not register as anomalies.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus normalizes a wire status string ("running", "Completed", ...)
// to a Status. Returns false for anything outside the known set.
func ParseStatus(raw string) (Status, bool) {
	switch Status(upper(raw)) {
	case StatusQueued:
		return StatusQueued, true
	case StatusRunning:
		return StatusRunning, true
	case StatusWaiting:
		return StatusWaiting, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusFailed:
		return StatusFailed, true
	}
	return "", false
}

// upper is an ASCII-only uppercase fold. Event types and statuses are ASCII
// identifiers on the wire; avoiding strings.ToUpper keeps this allocation-free
// for already-uppercase input.
func upper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'a' && b[j] <= 'z' {
					b[j] -= 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}
