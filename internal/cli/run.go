package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"threetick/internal/api"
	"threetick/internal/balance"
	"threetick/internal/engine"
	"threetick/internal/monitor"
	"threetick/internal/order"
	"threetick/internal/state"
	"threetick/pkg/config"
	"threetick/pkg/db"
	"threetick/pkg/exchanges/binance/futures_usdt"
	"threetick/pkg/exchanges/common"
	"threetick/pkg/exchanges/paper"
	"threetick/pkg/logger"
	"threetick/pkg/storage"
)

func newRunCmd(rc *rootConfig) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until capital is exhausted or interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.DryRun = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate orders on a paper account with live market data")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.L().Named("run")
	params := cfg.RiskParameters()

	venue, venueName, err := buildVenue(ctx, cfg)
	if err != nil {
		return err
	}

	var (
		recorders engine.MultiRecorder
		journal   *db.Journal
		execOpts  []order.Option
	)
	if cfg.JournalPath != "" {
		journal, err = db.OpenJournal(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		recorders = append(recorders, journal)
		execOpts = append(execOpts, order.WithJournal(journal))
		log.Info("journal enabled", zap.String("path", cfg.JournalPath))
	}
	if cfg.InfluxURL != "" {
		influx, err := storage.NewInfluxRecorder(ctx, storage.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
			Symbol: cfg.Instrument,
		})
		if err != nil {
			log.Warn("influx disabled", zap.Error(err))
		} else {
			defer influx.Close()
			recorders = append(recorders, influx)
		}
	}
	var recorder engine.Recorder
	if len(recorders) > 0 {
		recorder = recorders
	}

	tracker := balance.NewTracker(venue, logger.L().Named("balance"))
	positions := state.NewManager(cfg.Instrument, params.Leverage(), logger.L().Named("state"))
	exec := order.NewExecutor(venue, cfg.Instrument, params, tracker, execOpts...)

	loop, err := engine.NewLoop(engine.Config{
		Symbol:      cfg.Instrument,
		Timeframe:   cfg.Timeframe,
		Interval:    cfg.PollInterval,
		Heartbeat:   cfg.HeartbeatInterval,
		StatusEvery: cfg.StatusEvery,
		MarginMode:  common.MarginMode(cfg.MarginMode),
	}, engine.Deps{
		Venue:     venue,
		Params:    params,
		Balance:   tracker,
		Positions: positions,
		Entrant:   exec,
		Console:   monitor.NewConsole(os.Stdout),
		Recorder:  recorder,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		var reader api.JournalReader
		if journal != nil {
			reader = journal
		}
		server := api.NewServer(loop, reader, api.SystemMeta{
			DryRun:  cfg.DryRun,
			Venue:   venueName,
			Symbol:  cfg.Instrument,
			Version: Version,
		}, 3*cfg.HeartbeatInterval)
		go func() {
			if err := server.Start(ctx, cfg.MetricsAddr); err != nil {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
		log.Info("status server listening", zap.String("addr", cfg.MetricsAddr))
	}

	log.Info("starting",
		zap.String("venue", venueName),
		zap.String("symbol", cfg.Instrument),
		zap.String("timeframe", cfg.Timeframe),
		zap.Duration("interval", cfg.PollInterval),
		zap.Bool("dry_run", cfg.DryRun))

	if err := loop.Setup(ctx); err != nil {
		return err
	}
	err = loop.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("shutting down")
		return nil
	case errors.Is(err, engine.ErrExhaustedCapital):
		log.Error("capital exhausted, trading stopped")
		return err
	default:
		return err
	}
}

// buildVenue returns the live adapter behind a rate limiter, or a paper
// account fed by live market data when dry-run is set.
func buildVenue(ctx context.Context, cfg *config.Config) (common.Venue, string, error) {
	client := futures_usdt.NewClient(futures_usdt.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	limited := common.NewRateLimited(client, cfg.RequestsPerSecond, burst)

	if cfg.DryRun {
		return paper.New(limited, paper.Config{
			InitialBalance: cfg.DryRunInitialBalance,
			SlippageBps:    cfg.DryRunSlippageBps,
			FeeRate:        cfg.DryRunFeeRate,
			Leverage:       cfg.Leverage,
		}), "paper", nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.SyncTime(syncCtx); err != nil {
		return nil, "", fmt.Errorf("sync server time: %w", err)
	}
	return limited, "binance-usdtfut", nil
}
