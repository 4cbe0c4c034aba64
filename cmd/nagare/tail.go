package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/nagare"
)

func newTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Live dashboard of runs, steps, and connectivity",
		RunE:  runTail,
	}
}

func runTail(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	if err := eng.Start(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	}()

	// Engine callbacks run on the reconcile goroutine; they hand updates to
	// the TUI through a buffered channel and drop when the UI lags. The next
	// delta re-delivers the full view, so drops self-heal.
	updates := make(chan tea.Msg, 64)
	push := func(msg tea.Msg) {
		select {
		case updates <- msg:
		default:
		}
	}
	runsSub := eng.SubscribeRuns(func(runs []nagare.Run) { push(runsMsg(runs)) })
	defer runsSub.Cancel()
	connSub := eng.SubscribeConnectivity(func(c nagare.Connectivity) { push(connMsg(c)) })
	defer connSub.Cancel()

	p := tea.NewProgram(newTailModel(eng, updates), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
