package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Command verbs accepted by the execution backend. Unknown verbs are logged
// and ignored, never sent and never an error to the caller.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandCancel = "cancel"
	CommandRerun  = "rerun"
)

var knownCommands = map[string]struct{}{
	CommandPause:  {},
	CommandResume: {},
	CommandCancel: {},
	CommandRerun:  {},
}

// CommandClient is the outbound fire-and-forget command channel
// (POST /v1/commands/{verb}). The backend's response body is discarded;
// only transport-level failures are reported.
type CommandClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewCommandClient creates a command channel client.
func NewCommandClient(baseURL string, client *http.Client, logger *slog.Logger) *CommandClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandClient{baseURL: strings.TrimRight(baseURL, "/"), client: client, logger: logger}
}

type commandBody struct {
	RunID   string         `json:"run_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Send posts one command. Unknown verbs are dropped with a log line — the
// command vocabulary is a compatibility surface, not a crash site.
func (c *CommandClient) Send(ctx context.Context, runID, verb string, payload map[string]any) error {
	if _, ok := knownCommands[verb]; !ok {
		c.logger.Warn("command: unknown verb ignored", "verb", verb, "run_id", runID)
		return nil
	}

	encoded, err := json.Marshal(commandBody{RunID: runID, Payload: payload})
	if err != nil {
		return fmt.Errorf("stream: marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/commands/"+verb, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("stream: create command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream: send command: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("stream: send command: unexpected status %d", resp.StatusCode)
	}
	return nil
}
