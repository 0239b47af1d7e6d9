// Package window decides which time range a run pulls from PVLive.
package window

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // Europe/London without a system zoneinfo.

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// SettlementPeriod is the PVLive publication cadence.
const SettlementPeriod = 30 * time.Minute

// DefaultBackfill is how far back an in-day run looks.
const DefaultBackfill = 2 * time.Hour

// ErrWrongHour is returned when the UK London hour guard does not match.
var ErrWrongHour = errors.New("uk london hour does not match")

var london = mustLoadLondon()

func mustLoadLondon() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		panic(fmt.Sprintf("load Europe/London: %v", err))
	}
	return loc
}

// Compute returns the fetch window for regime at now.
//
// in-day:    [now - backfill, now + 30m)
// day-after: [midnight - 24h, midnight], midnight being the start of now's UTC day.
func Compute(regime models.Regime, now time.Time, backfill time.Duration) models.FetchWindow {
	now = now.UTC()
	if regime == models.RegimeInDay {
		return models.FetchWindow{
			Start: now.Add(-backfill),
			End:   now.Add(SettlementPeriod),
		}
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return models.FetchWindow{
		Start:      midnight.Add(-24 * time.Hour),
		End:        midnight,
		IncludeEnd: true,
	}
}

// RoundUpToHalfHour returns t moved forward to the next :00 or :30 boundary.
// Sub-second precision is dropped first, so a time on a boundary is kept.
func RoundUpToHalfHour(t time.Time) time.Time {
	t = t.Truncate(time.Second)
	floor := t.Truncate(SettlementPeriod)
	if floor.Equal(t) {
		return t
	}
	return floor.Add(SettlementPeriod)
}

// HalfHours lists every half-hour from start to end inclusive.
func HalfHours(start, end time.Time) []time.Time {
	var out []time.Time
	for t := start; !t.After(end); t = t.Add(SettlementPeriod) {
		out = append(out, t)
	}
	return out
}

// CheckUKLondonHour fails unless now's Europe/London hour equals hour. Cron
// runs in UTC, so a job meant for a fixed local time is scheduled twice and
// this guard drops the run on the wrong side of a clock change. A nil hour
// disables the check.
func CheckUKLondonHour(hour *int, now time.Time) error {
	if hour == nil {
		return nil
	}
	local := now.In(london)
	if local.Hour() != *hour {
		return fmt.Errorf("%w: expected %d but it is %s", ErrWrongHour, *hour, local.Format(time.RFC3339))
	}
	return nil
}
