package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/logging"
	"github.com/gridwatch/pvlive-consumer/internal/models"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/config"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/fill"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/gsps"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/metrics"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/pipeline"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/pvlive"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/solar"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/window"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("consumer failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, "pvlive-consumer")

	started := time.Now().UTC()
	if err := window.CheckUKLondonHour(cfg.UKLondonHour, started); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := solar.LoadTable(cfg.LocationsFile)
	if err != nil {
		return err
	}
	logger.Debug("loaded gsp locations", "count", table.Len())

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return err
	}

	runMetrics := metrics.NewRun(string(cfg.Regime))
	client := pvlive.NewClient(pvlive.Options{
		Domain:  cfg.PVLiveDomain,
		Timeout: cfg.RequestTimeout,
		Backoff: pvlive.Backoff{MaxRetries: cfg.MaxRetries},
		Logger:  logger,
	})
	p := pipeline.New(
		client,
		fill.NewNightTime(table, solar.NOAA{}, cfg.ElevationLimit, logger),
		fill.NewNational(logger),
		runMetrics,
		pipeline.Options{
			BatchSize:    cfg.BatchSize,
			IgnoreGSPIDs: cfg.IgnoreGSPIDs,
			Concurrency:  cfg.FetchConcurrency,
		},
		logger,
	)

	w := window.Compute(cfg.Regime, started, cfg.Backfill)
	saved, err := consume(ctx, database, p, cfg, w, started, runMetrics, logger)
	runMetrics.Finish(started, time.Now().UTC(), err == nil)

	pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := runMetrics.Push(pushCtx, cfg.PushgatewayURL); perr != nil {
		logger.Warn("could not push metrics", "error", perr)
	}

	if err != nil {
		return err
	}
	logger.Info("consumer finished",
		"regime", cfg.Regime,
		"saved", saved,
		"dry_run", cfg.DryRun,
		"elapsed", time.Since(started).String(),
	)
	return nil
}

// consume runs the whole reconciliation in one session. A dry run rolls the
// session back instead of committing.
func consume(
	ctx context.Context,
	database db.Database,
	p *pipeline.Pipeline,
	cfg config.Config,
	w models.FetchWindow,
	now time.Time,
	runMetrics *metrics.Run,
	logger *slog.Logger,
) (int, error) {
	var saved int
	err := database.WithSession(ctx, func(sess db.Session) error {
		locations, err := gsps.NewRegistry(sess, logger).Load(ctx, cfg.NGSPs, cfg.IncludeNational, cfg.Regime, now)
		if err != nil {
			var dup *gsps.DuplicateError
			if errors.As(err, &dup) {
				logger.Error("duplicate gsp locations", "gsp_ids", dup.GSPIDs, "keep", dup.Keep)
			}
			return err
		}
		eligible := gsps.SelectEligible(locations, now)
		runMetrics.SetLocations("loaded", len(locations))
		runMetrics.SetLocations("eligible", len(eligible))
		logger.Info("selected gsps", "loaded", len(locations), "eligible", len(eligible))

		saved, err = p.Run(ctx, sess, eligible, w, cfg.Regime)
		if err != nil {
			return err
		}
		if cfg.DryRun {
			logger.Info("dry-run: rolling back", "would_save", saved)
			return db.ErrRollback
		}
		return nil
	})
	return saved, err
}
