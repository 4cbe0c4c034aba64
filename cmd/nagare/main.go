// Package main implements the nagare CLI: a live terminal dashboard and a
// handful of one-shot commands against a run/step event producer.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/nagare"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagBaseURL    string
	flagConfigFile string
	flagLogLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "nagare",
		Short:         "Live-tail run/step event streams into a consistent view",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "producer base URL (default from NAGARE_BASE_URL)")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "TOML config file overlay")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newTailCmd(), newRunsCmd(), newSendCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nagare: %v\n", err)
		os.Exit(1)
	}
}

// newEngine builds an engine from the persistent flags. The logger writes
// to stderr so it never corrupts the TUI or piped output.
func newEngine() (*nagare.Engine, error) {
	level := slog.LevelWarn
	switch flagLogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []nagare.Option{
		nagare.WithLogger(logger),
		nagare.WithVersion(version),
	}
	if flagBaseURL != "" {
		opts = append(opts, nagare.WithBaseURL(flagBaseURL))
	}
	if flagConfigFile != "" {
		opts = append(opts, nagare.WithConfigFile(flagConfigFile))
	}
	return nagare.New(opts...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nagare version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nagare %s\n", version)
		},
	}
}
