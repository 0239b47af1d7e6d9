package pipeline

import (
	"math"
	"time"

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// NormalizeValue drops undefined values; NaN -> nil.
func NormalizeValue(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	val := *v
	return &val
}

// ValuesEqual compares two optional float values with tolerance.
func ValuesEqual(a, b *float64, epsilon float64) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return math.Abs(*a-*b) <= epsilon
	}
}

// ClipToWindow keeps readings whose timestamp falls inside w.
func ClipToWindow(readings []models.RawReading, w models.FetchWindow) []models.RawReading {
	out := make([]models.RawReading, 0, len(readings))
	for _, r := range readings {
		if w.Contains(r.DatetimeGMT) {
			out = append(out, r)
		}
	}
	return out
}

// FilterNewReadings keeps readings strictly after last. A nil last keeps all.
func FilterNewReadings(readings []models.RawReading, last *models.YieldRecord) []models.RawReading {
	if last == nil {
		return readings
	}
	out := make([]models.RawReading, 0, len(readings))
	for _, r := range readings {
		if r.DatetimeGMT.After(last.DatetimeUTC) {
			out = append(out, r)
		}
	}
	return out
}

// ZeroWithoutCapacity sets generation to zero on every reading when the live
// capacity across readings sums to zero. Null capacities count as zero.
func ZeroWithoutCapacity(readings []models.RawReading) []models.RawReading {
	var total float64
	for _, r := range readings {
		if c := NormalizeValue(r.CapacityMW); c != nil {
			total += *c
		}
	}
	if total != 0 {
		return readings
	}
	for i := range readings {
		readings[i].GenerationMW = models.Float(0)
	}
	return readings
}

// DropNullGeneration removes readings without generation, unless none of them
// has any, in which case all are kept.
func DropNullGeneration(readings []models.RawReading) []models.RawReading {
	out := make([]models.RawReading, 0, len(readings))
	for _, r := range readings {
		if NormalizeValue(r.GenerationMW) != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return readings
	}
	return out
}

// BuildYields converts readings for loc into yields: MW to kW, tagged with
// regime.
func BuildYields(loc *models.Location, readings []models.RawReading, regime models.Regime) []models.YieldRecord {
	out := make([]models.YieldRecord, 0, len(readings))
	for _, r := range readings {
		var kw *float64
		if g := NormalizeValue(r.GenerationMW); g != nil {
			kw = models.Float(*g * 1000)
		}
		out = append(out, models.YieldRecord{
			Location:            loc,
			DatetimeUTC:         r.DatetimeGMT.UTC(),
			SolarGenerationKW:   kw,
			InstalledCapacityMW: NormalizeValue(r.InstalledCapacityMW),
			CapacityMW:          NormalizeValue(r.CapacityMW),
			PVLiveUpdatedUTC:    r.UpdatedGMT.UTC(),
			Regime:              regime,
		})
	}
	return out
}

// Latest returns the yield with the greatest timestamp, or nil.
func Latest(yields []models.YieldRecord) *models.YieldRecord {
	var latest *models.YieldRecord
	var at time.Time
	for i := range yields {
		if latest == nil || yields[i].DatetimeUTC.After(at) {
			latest = &yields[i]
			at = yields[i].DatetimeUTC
		}
	}
	return latest
}
