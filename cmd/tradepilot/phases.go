package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradepilot/tradepilot/internal/config"
	"github.com/tradepilot/tradepilot/internal/phase"
)

func runPhases(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	schedule, err := phase.NewSchedule(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	now := time.Now().In(schedule.Location())
	current := schedule.Current(now)
	change := schedule.NextChange(now)

	fmt.Printf("Schedule (%s), now %s\n\n", schedule.Location(), now.Format("15:04:05"))
	fmt.Printf("%-15s %-13s %-8s %-6s %-7s %-6s %s\n",
		"PHASE", "WINDOW", "RISK", "MULT", "MINCONF", "TRADES", "STRATEGIES")
	for _, p := range schedule.Phases() {
		marker := " "
		if p.Name == current.Name {
			marker = "*"
		}
		strategies := make([]string, 0, len(p.Allowed))
		for tag := range p.Allowed {
			strategies = append(strategies, tag)
		}
		sort.Strings(strategies)
		fmt.Printf("%s%-14s %02d:%02d - %02d:%02d %-8s %-6.2f %-7.2f %-6d %s\n",
			marker, p.Name,
			p.Start/60, p.Start%60, p.End/60, p.End%60,
			p.RiskLevel, p.PositionMultiplier, p.MinConfidence, p.MaxTrades,
			strings.Join(strategies, ","))
	}

	fmt.Printf("\nCurrent phase: %s", current.Name)
	if current.IsClosed() {
		fmt.Print(" (no admissions)")
	}
	fmt.Printf("\nNext change:   %s at %s (in %s)\n",
		change.Next.Name,
		change.StartsAt.Format("15:04"),
		change.Until.Round(time.Minute))
	return nil
}
