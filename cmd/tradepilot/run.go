package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tradepilot/tradepilot/internal/broker"
	"github.com/tradepilot/tradepilot/internal/config"
	"github.com/tradepilot/tradepilot/internal/domain"
	httpapi "github.com/tradepilot/tradepilot/internal/interfaces/http"
	"github.com/tradepilot/tradepilot/internal/marketdata"
	"github.com/tradepilot/tradepilot/internal/persistence"
	"github.com/tradepilot/tradepilot/internal/persistence/postgres"
	"github.com/tradepilot/tradepilot/internal/persistence/redisstore"
	"github.com/tradepilot/tradepilot/internal/phase"
	"github.com/tradepilot/tradepilot/internal/regime"
	"github.com/tradepilot/tradepilot/internal/signals"
	"github.com/tradepilot/tradepilot/internal/supervisor"
	"github.com/tradepilot/tradepilot/internal/telemetry"
)

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		parsed, err := supervisor.ParseAutomationMode(mode)
		if err != nil {
			return err
		}
		cfg.Supervisor.Mode = parsed
	}
	if symbol, _ := cmd.Flags().GetString("symbol"); symbol != "" {
		cfg.Supervisor.Symbol = symbol
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Pretty)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedule, err := phase.NewSchedule(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	store, journal, cleanup, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	classifier, err := regime.NewClassifier(ctx, cfg.Regime, store)
	if err != nil {
		return fmt.Errorf("classifier init failed: %w", err)
	}

	data := marketdata.NewSimulated(cfg.Data, logger)
	metrics := telemetry.NewMetrics()

	var generators []supervisor.SignalGenerator
	if cfg.Signals.Momentum.Enabled {
		generators = append(generators, signals.NewMomentum(cfg.Signals.Momentum.MomentumConfig))
	}
	if cfg.Signals.MeanReversion.Enabled {
		generators = append(generators, signals.NewMeanReversion(cfg.Signals.MeanReversion.MeanReversionConfig))
	}

	deps := supervisor.Deps{
		Schedule:   schedule,
		Classifier: classifier,
		Data:       data,
		Generators: generators,
		Journal:    journal,
		Metrics:    metrics,
		Logger:     logger,
	}
	if cfg.Supervisor.Mode != supervisor.ModeAnalysis {
		deps.Executor = broker.NewPaperBroker(cfg.Broker, logger)
	}
	if cfg.Supervisor.Mode == supervisor.ModeSupervised {
		deps.Approval = terminalApproval(logger)
	}

	sup, err := supervisor.New(cfg.Supervisor, deps)
	if err != nil {
		return fmt.Errorf("supervisor init failed: %w", err)
	}

	server := httpapi.NewServer(cfg.Server, sup, schedule, classifier, metrics, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("session start failed: %w", err)
	}
	logger.Info().
		Str("session_id", sup.SessionID()).
		Str("mode", string(cfg.Supervisor.Mode)).
		Str("symbol", cfg.Supervisor.Symbol).
		Msg("Session running, Ctrl-C to stop")

	<-ctx.Done()
	logger.Info().Msg("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Supervisor stop failed")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	return nil
}

// buildStorage wires the configured backend into a regime store and a
// trade journal. The cleanup func closes any opened connections.
func buildStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (regime.Store, persistence.TradesRepo, func(), error) {
	noop := func() {}
	switch cfg.Storage.Backend {
	case config.StorageNone:
		return nil, persistence.NewMemoryTradesRepo(), noop, nil

	case config.StorageFile:
		store, err := regime.NewFileStore(cfg.Storage.FilePath)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("file store init failed: %w", err)
		}
		return store, persistence.NewMemoryTradesRepo(), noop, nil

	case config.StorageRedis:
		opts := redisstore.DefaultOptions()
		opts.Addr = cfg.Storage.Redis.Addr
		opts.Password = cfg.Storage.Redis.Password
		opts.DB = cfg.Storage.Redis.DB
		store, err := redisstore.New(ctx, opts)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("redis store init failed: %w", err)
		}
		return store, persistence.NewMemoryTradesRepo(), noop, nil

	case config.StoragePostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("postgres connect failed: %w", err)
		}
		if err := postgres.Migrate(ctx, db, cfg.Storage.QueryTimeout); err != nil {
			db.Close()
			return nil, nil, noop, err
		}
		store := postgres.NewRegimeStore(db, cfg.Storage.QueryTimeout, cfg.Regime.HistoryLimit)
		journal := postgres.NewTradesRepo(db, cfg.Storage.QueryTimeout)
		logger.Info().Msg("Postgres storage connected")
		return store, journal, func() { db.Close() }, nil
	}
	return nil, nil, noop, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
}

// terminalApproval prompts on stdin for each supervised-mode candidate.
// Anything other than y/yes is a denial.
func terminalApproval(logger zerolog.Logger) supervisor.ApprovalFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, sig domain.TradeSignal) bool {
		fmt.Printf("Approve %s %s (%s, confidence %.2f)? [y/N]: ", sig.Action, sig.Symbol, sig.Strategy, sig.Confidence)

		answer := make(chan string, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if err != nil {
				answer <- ""
				return
			}
			answer <- strings.ToLower(strings.TrimSpace(line))
		}()

		select {
		case a := <-answer:
			return a == "y" || a == "yes"
		case <-ctx.Done():
			fmt.Println()
			logger.Warn().Msg("Approval timed out, candidate denied")
			return false
		}
	}
}
