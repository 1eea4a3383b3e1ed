package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tradepilot/tradepilot/internal/config"
	"github.com/tradepilot/tradepilot/internal/marketdata"
	"github.com/tradepilot/tradepilot/internal/regime"
)

func runClassify(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Pretty)
	ctx := context.Background()

	classifier, err := regime.NewClassifier(ctx, cfg.Regime, nil)
	if err != nil {
		return fmt.Errorf("classifier init failed: %w", err)
	}

	data := marketdata.NewSimulated(cfg.Data, logger)
	mc, err := data.Snapshot(ctx, cfg.Supervisor.Symbol)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	cls := classifier.Classify(ctx, mc.Bars, mc.Volumes)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cls)
}
