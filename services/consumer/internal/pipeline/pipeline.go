// Package pipeline reconciles PVLive readings with stored GSP yields and
// writes what is new.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/models"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/fill"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/metrics"
)

// DefaultBatchSize is the number of accumulated yields that triggers a write.
const DefaultBatchSize = 100

// DefaultIgnoreGSPIDs are GSPs PVLive no longer publishes.
var DefaultIgnoreGSPIDs = []int{5, 17, 53, 75, 139, 140, 143, 157, 163, 225, 310}

// Fetcher returns the raw readings for one GSP. An empty result is not an error.
type Fetcher interface {
	Fetch(ctx context.Context, gspID int, w models.FetchWindow) ([]models.RawReading, error)
}

// Options tunes a Pipeline.
type Options struct {
	BatchSize    int
	IgnoreGSPIDs []int
	// Concurrency bounds parallel fetches. Readings are still reconciled one
	// location at a time.
	Concurrency int
}

// Pipeline is the reconciliation run over a set of locations.
type Pipeline struct {
	fetcher  Fetcher
	night    *fill.NightTime
	national *fill.National
	metrics  *metrics.Run
	logger   *slog.Logger

	batchSize   int
	concurrency int
	ignore      map[int]bool
}

// New builds a Pipeline. m may be nil.
func New(fetcher Fetcher, night *fill.NightTime, national *fill.National, m *metrics.Run, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	ignore := make(map[int]bool, len(opts.IgnoreGSPIDs))
	for _, id := range opts.IgnoreGSPIDs {
		ignore[id] = true
	}
	return &Pipeline{
		fetcher:     fetcher,
		night:       night,
		national:    national,
		metrics:     m,
		logger:      logger,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		ignore:      ignore,
	}
}

type fetchResult struct {
	readings []models.RawReading
	err      error
}

// Run fetches, reconciles and saves yields for locations over w, then adds
// national-scaled estimates when storage has no regional yields for w. It
// returns the number of yields saved. Per-GSP fetch failures are logged and
// skipped; storage failures abort the run.
func (p *Pipeline) Run(ctx context.Context, sess db.Session, locations []*models.Location, w models.FetchWindow, regime models.Regime) (int, error) {
	p.logger.Info("pulling gsp data", "gsps", len(locations), "window", w.String(), "regime", regime)

	selected := make([]*models.Location, 0, len(locations))
	for _, loc := range locations {
		if p.ignore[loc.GSPID] {
			p.logger.Debug("skipping ignored gsp", "gsp_id", loc.GSPID)
			continue
		}
		selected = append(selected, loc)
	}

	fetched := p.fetchAll(ctx, selected, w)

	var (
		pending []models.YieldRecord
		saved   int
	)
	flush := func(source string) error {
		if len(pending) == 0 {
			return nil
		}
		if err := sess.SaveYields(ctx, pending); err != nil {
			return fmt.Errorf("save %d yields: %w", len(pending), err)
		}
		p.logger.Debug("saved gsp yields", "count", len(pending))
		p.metrics.IncFlush()
		p.metrics.AddSaved(source, len(pending))
		saved += len(pending)
		pending = pending[:0]
		return nil
	}

	for i, loc := range selected {
		res := fetched[i]
		if res.err != nil {
			p.logger.Warn("fetch failed, skipping gsp", "gsp_id", loc.GSPID, "label", loc.Label, "error", res.err)
			continue
		}

		yields, err := p.reconcile(ctx, sess, loc, res.readings, w, regime)
		if err != nil {
			return saved, err
		}
		if len(yields) == 0 {
			continue
		}
		pending = append(pending, yields...)

		if len(pending) >= p.batchSize {
			if err := flush(metrics.SourcePVLive); err != nil {
				return saved, err
			}
		}
	}

	// The fallback reads storage, so this run's yields must be visible to it.
	if err := flush(metrics.SourcePVLive); err != nil {
		return saved, err
	}

	// Ignored GSPs still get national estimates.
	extra, err := p.national.Synthesize(ctx, sess, w, regime, locations)
	if err != nil {
		return saved, err
	}
	pending = append(pending, extra...)
	if err := flush(metrics.SourceNational); err != nil {
		return saved, err
	}

	p.logger.Info("finished pulling gsp data", "saved", saved, "national_estimates", len(extra))
	return saved, nil
}

func (p *Pipeline) fetchAll(ctx context.Context, locations []*models.Location, w models.FetchWindow) []fetchResult {
	results := make([]fetchResult, len(locations))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, loc := range locations {
		g.Go(func() error {
			started := time.Now()
			readings, err := p.fetcher.Fetch(ctx, loc.GSPID, w)
			results[i] = fetchResult{readings: readings, err: err}

			switch {
			case err != nil:
				p.metrics.ObserveFetch(metrics.ResultError, time.Since(started))
			case len(readings) == 0:
				p.metrics.ObserveFetch(metrics.ResultEmpty, time.Since(started))
			default:
				p.metrics.ObserveFetch(metrics.ResultSuccess, time.Since(started))
			}
			// Failures stay per GSP; never cancel the other fetches.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// reconcile turns one location's readings into the yields to save and
// applies any installed capacity change to the location.
func (p *Pipeline) reconcile(ctx context.Context, sess db.LocationStore, loc *models.Location, readings []models.RawReading, w models.FetchWindow, regime models.Regime) ([]models.YieldRecord, error) {
	logger := p.logger.With("gsp_id", loc.GSPID)
	logger.Debug("processing gsp", "label", loc.Label, "readings", len(readings))

	synthetic := len(readings) == 0
	if synthetic {
		logger.Warn("no data from pvlive, trying night time zeros", "window", w.String())
		readings = p.night.Fill(w, loc, readings, regime)
	}
	if len(readings) == 0 {
		logger.Warn("no data for gsp", "window", w.String())
		return nil, nil
	}

	readings = ClipToWindow(readings, w)
	if loc.LastYield != nil {
		readings = FilterNewReadings(readings, loc.LastYield)
		if len(readings) == 0 {
			logger.Debug("no new data", "last", loc.LastYield.DatetimeUTC)
			return nil, nil
		}
	} else {
		logger.Debug("first yields for gsp")
	}
	if len(readings) == 0 {
		return nil, nil
	}

	readings = ZeroWithoutCapacity(readings)
	readings = DropNullGeneration(readings)

	yields := BuildYields(loc, readings, regime)

	// Night time zeros carry no capacity information from PVLive.
	if !synthetic {
		if err := p.updateCapacity(ctx, sess, loc, readings[0].InstalledCapacityMW); err != nil {
			return nil, err
		}
	}

	if latest := Latest(yields); latest != nil {
		last := *latest
		loc.LastYield = &last
	}
	logger.Debug("built gsp yields", "count", len(yields))
	return yields, nil
}

func (p *Pipeline) updateCapacity(ctx context.Context, sess db.LocationStore, loc *models.Location, capacity *float64) error {
	next := NormalizeValue(capacity)
	if next == nil {
		p.logger.Debug("new installed capacity undefined, keeping current", "gsp_id", loc.GSPID)
		return nil
	}
	if ValuesEqual(loc.InstalledCapacityMW, next, 0) {
		return nil
	}

	p.logger.Debug("updating installed capacity",
		"gsp_id", loc.GSPID,
		"from", models.FloatString(loc.InstalledCapacityMW),
		"to", models.FloatString(next),
	)
	previous := loc.InstalledCapacityMW
	loc.InstalledCapacityMW = next
	if err := sess.UpdateInstalledCapacity(ctx, loc); err != nil {
		loc.InstalledCapacityMW = previous
		return fmt.Errorf("update capacity for gsp %d: %w", loc.GSPID, err)
	}
	p.metrics.IncCapacityUpdate()
	return nil
}
