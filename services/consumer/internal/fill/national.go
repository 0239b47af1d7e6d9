package fill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// National estimates regional yields from the national yield when no regional
// data exists for the window.
type National struct {
	logger *slog.Logger
}

// NewNational builds a National fallback.
func NewNational(logger *slog.Logger) *National {
	if logger == nil {
		logger = slog.Default()
	}
	return &National{logger: logger}
}

// Synthesize returns one yield per (national yield, regional location) pair,
// scaling national generation by the region's share of national capacity.
// It returns nothing when the store already holds any regional yield for the
// window, so real regional data is never shadowed by an estimate.
func (n *National) Synthesize(ctx context.Context, store db.YieldStore, w models.FetchWindow, regime models.Regime, locations []*models.Location) ([]models.YieldRecord, error) {
	n.logger.Info("making gsp yields from national if needed", "window", w.String(), "regime", regime)

	count, err := store.CountYields(ctx, w, regime, true)
	if err != nil {
		return nil, fmt.Errorf("count regional yields: %w", err)
	}
	if count > 0 {
		n.logger.Debug("regional yields already stored, not scaling national", "count", count)
		return nil, nil
	}

	national, err := store.LoadYields(ctx, []int{models.NationalGSPID}, w, regime)
	if err != nil {
		return nil, fmt.Errorf("load national yields: %w", err)
	}
	n.logger.Debug("loaded national yields", "count", len(national))

	var out []models.YieldRecord
	for _, ny := range national {
		if ny.SolarGenerationKW == nil {
			continue
		}
		var nationalCapacity *float64
		if ny.Location != nil {
			nationalCapacity = ny.Location.InstalledCapacityMW
		}
		if nationalCapacity == nil || *nationalCapacity == 0 {
			n.logger.Warn("national capacity unknown, cannot scale", "datetime_utc", ny.DatetimeUTC)
			continue
		}

		for _, loc := range locations {
			if loc.IsNational() {
				continue
			}
			factor := 1 / *nationalCapacity
			if loc.InstalledCapacityMW != nil {
				factor = *loc.InstalledCapacityMW / *nationalCapacity
			}
			n.logger.Debug("national to gsp factor", "gsp_id", loc.GSPID, "factor", factor)

			out = append(out, models.YieldRecord{
				Location:          loc,
				DatetimeUTC:       ny.DatetimeUTC,
				SolarGenerationKW: models.Float(*ny.SolarGenerationKW * factor),
				CapacityMW:        loc.InstalledCapacityMW,
				PVLiveUpdatedUTC:  ny.PVLiveUpdatedUTC,
				Regime:            ny.Regime,
			})
		}
	}

	n.logger.Info("made gsp yields from national", "count", len(out))
	return out, nil
}
