package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "tradepilot"
	version = "v0.3.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Automated trading control core",
		Version: version,
		Long: `tradepilot runs a supervised intraday trading session: a phase schedule
gates when strategies may trade, a regime classifier adapts their
thresholds, and a supervisory loop enforces safety limits around every
execution.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults apply when omitted)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a trading session",
		Long:  "Wires the schedule, classifier, generators, broker and supervisor, then runs until interrupted",
		RunE:  runSession,
	}
	runCmd.Flags().String("mode", "", "Automation mode override (full|market_hours|supervised|paper|analysis)")
	runCmd.Flags().String("symbol", "", "Symbol override")

	phasesCmd := &cobra.Command{
		Use:   "phases",
		Short: "Show the phase table and the current phase",
		RunE:  runPhases,
	}

	classifyCmd := &cobra.Command{
		Use:   "classify",
		Short: "Run one regime classification and print it",
		Long:  "Fetches a market snapshot from the configured data source, classifies it, and prints the result as JSON",
		RunE:  runClassify,
	}

	rootCmd.AddCommand(runCmd, phasesCmd, classifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: console output on a terminal or
// when configured pretty, JSON otherwise.
func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out)
	if pretty || term.IsTerminal(int(out.Fd())) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	return logger.Level(lvl).With().Timestamp().Str("app", appName).Logger()
}
