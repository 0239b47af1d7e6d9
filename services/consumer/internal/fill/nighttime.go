// Package fill synthesises readings PVLive did not return: zero generation at
// night, and regional estimates scaled from the national figure.
package fill

import (
	"log/slog"

	"github.com/gridwatch/pvlive-consumer/internal/models"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/solar"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/window"
)

// DefaultElevationLimit is the sun elevation, in degrees, below which almost
// no panel produces anything.
const DefaultElevationLimit = 5.0

// NightTime fills empty in-day fetches with zero generation for the
// half-hours when the sun is below the elevation limit.
type NightTime struct {
	lookup         solar.LocationLookup
	position       solar.PositionProvider
	elevationLimit float64
	logger         *slog.Logger
}

// NewNightTime builds a NightTime filler.
func NewNightTime(lookup solar.LocationLookup, position solar.PositionProvider, elevationLimit float64, logger *slog.Logger) *NightTime {
	if logger == nil {
		logger = slog.Default()
	}
	return &NightTime{
		lookup:         lookup,
		position:       position,
		elevationLimit: elevationLimit,
		logger:         logger,
	}
}

// Fill returns readings unchanged unless regime is in-day and readings is
// empty, in which case it returns one zero-generation reading per dark
// half-hour in the window (end included).
func (n *NightTime) Fill(w models.FetchWindow, loc *models.Location, readings []models.RawReading, regime models.Regime) []models.RawReading {
	if regime != models.RegimeInDay || len(readings) > 0 {
		return readings
	}

	point, ok := n.lookup.Lookup(loc.GSPID)
	if !ok {
		point, ok = n.lookup.Lookup(models.NationalGSPID)
		if !ok {
			n.logger.Warn("no coordinates for gsp, cannot add night time zeros", "gsp_id", loc.GSPID)
			return readings
		}
		n.logger.Warn("no coordinates for gsp, using national centroid", "gsp_id", loc.GSPID)
	}

	times := window.HalfHours(window.RoundUpToHalfHour(w.Start), w.End)
	elevations := n.position.Elevation(times, point.Latitude, point.Longitude)

	capacity := 0.0
	updated := w.Start
	if last := loc.LastYield; last != nil {
		if last.CapacityMW != nil {
			capacity = *last.CapacityMW
		}
		if !last.PVLiveUpdatedUTC.IsZero() {
			updated = last.PVLiveUpdatedUTC
		}
	}

	out := make([]models.RawReading, 0, len(times))
	for i, t := range times {
		if elevations[i] >= n.elevationLimit {
			continue
		}
		out = append(out, models.RawReading{
			GSPID:               loc.GSPID,
			DatetimeGMT:         t.UTC(),
			GenerationMW:        models.Float(0),
			InstalledCapacityMW: models.Float(capacity),
			CapacityMW:          models.Float(capacity),
			UpdatedGMT:          updated.UTC(),
		})
	}

	n.logger.Debug("added night time zeros",
		"gsp_id", loc.GSPID,
		"count", len(out),
		"window", w.String(),
		"elevation_limit", n.elevationLimit,
	)
	return out
}
