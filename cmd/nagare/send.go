package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var payloadJSON string
	cmd := &cobra.Command{
		Use:   "send <run-id> <pause|resume|cancel|rerun>",
		Short: "Send a fire-and-forget command to the execution backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, verb := args[0], args[1]

			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("parse --payload: %w", err)
				}
			}

			// Commands don't need the pipeline running; the engine's command
			// client works unstarted.
			eng, err := newEngine()
			if err != nil {
				return err
			}
			if err := eng.Command(cmd.Context(), runID, verb, payload); err != nil {
				return err
			}
			fmt.Printf("sent %s to %s\n", verb, runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "optional JSON payload object")
	return cmd
}
