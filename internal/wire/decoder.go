// Package wire decodes raw transport JSON into typed event envelopes.
//
// Two shapes arrive here: REST backfill items and live SSE data payloads.
// Both carry the same fields; they differ only in how a sequence number is
// assigned. Decoding is pure — malformed input produces an error, never a
// partial envelope.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/nagare/internal/model"
)

// StepUnknown is the producer's sentinel for "no step". It is normalized to
// an empty StepID at decode time so the rest of the pipeline has a single
// representation for stepless events.
const StepUnknown = "unknown"

// ErrMissingRunID is returned for events that carry no run id. An event
// cannot exist outside a run, so these are dropped by the caller.
var ErrMissingRunID = errors.New("wire: event missing run_id")

// rawEvent is the transport JSON shape shared by backfill items and live
// SSE payloads.
type rawEvent struct {
	Version   int             `json:"version"`
	Timestamp float64         `json:"timestamp"` // seconds, fractional
	RunID     string          `json:"run_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
}

// Decoder turns raw transport messages into model.Envelope values.
//
// The producer does not assign sequence numbers, so the decoder does:
// backfill items get their 1-based page index, and live items continue from
// the same counter. The result is an arrival-order proxy, not a causal
// order — true ordering within a run relies on timestamps.
type Decoder struct {
	seq atomic.Int64
}

// NewDecoder returns a Decoder with its sequence counter at zero.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// DecodeBackfill decodes a backfill page in array order. Malformed items are
// skipped and counted; the page is never rejected wholesale. The returned
// dropped count includes both parse failures and missing run ids.
func (d *Decoder) DecodeBackfill(items []json.RawMessage) (envs []model.Envelope, dropped int) {
	envs = make([]model.Envelope, 0, len(items))
	for _, item := range items {
		env, err := d.decode(item)
		if err != nil {
			dropped++
			continue
		}
		envs = append(envs, env)
	}
	return envs, dropped
}

// DecodeLive decodes a single live SSE data payload.
func (d *Decoder) DecodeLive(data []byte) (model.Envelope, error) {
	return d.decode(data)
}

func (d *Decoder) decode(data []byte) (model.Envelope, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.Envelope{}, fmt.Errorf("wire: decode event: %w", err)
	}
	if raw.RunID == "" {
		return model.Envelope{}, ErrMissingRunID
	}

	payload := map[string]any{}
	if len(raw.Data) > 0 {
		// A non-object "data" field is tolerated as an empty payload rather
		// than failing the whole envelope.
		_ = json.Unmarshal(raw.Data, &payload)
	}

	env := model.Envelope{
		Version:   raw.Version,
		Sequence:  d.seq.Add(1),
		Timestamp: fromUnixSeconds(raw.Timestamp),
		RunID:     raw.RunID,
		StepID:    stepID(payload),
		Type:      model.NormalizeEventType(raw.EventType),
		Payload:   payload,
		Explain:   raw.Message,
	}
	return env, nil
}

// stepID extracts the step identifier from a payload, honoring both the
// "step" and "step_id" keys, and normalizes the "unknown" sentinel to empty.
func stepID(payload map[string]any) string {
	id, _ := payload["step"].(string)
	if id == "" {
		id, _ = payload["step_id"].(string)
	}
	if id == StepUnknown {
		return ""
	}
	return id
}

// fromUnixSeconds converts a fractional unix-seconds timestamp to time.Time.
func fromUnixSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
