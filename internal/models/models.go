package models

import (
	"fmt"
	"time"
)

// NationalGSPID is the id of the national aggregate location.
const NationalGSPID = 0

// NationalLabel is the label given to the national location when it is created.
const NationalLabel = "National-GB"

// Regime tags a yield by how it was pulled from PVLive.
type Regime string

const (
	RegimeInDay    Regime = "in-day"
	RegimeDayAfter Regime = "day-after"
)

// ParseRegime validates a regime string.
func ParseRegime(s string) (Regime, error) {
	switch Regime(s) {
	case RegimeInDay, RegimeDayAfter:
		return Regime(s), nil
	default:
		return "", fmt.Errorf("unknown regime %q, expected %q or %q", s, RegimeInDay, RegimeDayAfter)
	}
}

// Location is a GSP, or the national aggregate when GSPID is 0.
type Location struct {
	// ID is the storage row id.
	ID                  int64
	GSPID               int
	Label               string
	InstalledCapacityMW *float64

	// LastYield is the most recent stored yield for the regime being processed.
	// Only the registry and the pipeline set it.
	LastYield *YieldRecord
}

// IsNational reports whether the location is the national aggregate.
func (l *Location) IsNational() bool {
	return l.GSPID == NationalGSPID
}

// DefaultLabel is the label used when a location is created on first sight.
func DefaultLabel(gspID int) string {
	if gspID == NationalGSPID {
		return NationalLabel
	}
	return fmt.Sprintf("GSP_%d", gspID)
}

// YieldRecord is one half-hourly generation reading for a location.
type YieldRecord struct {
	// Location is a non-owning back-reference.
	Location *Location

	DatetimeUTC         time.Time
	SolarGenerationKW   *float64
	InstalledCapacityMW *float64
	CapacityMW          *float64
	PVLiveUpdatedUTC    time.Time
	Regime              Regime
}

// RawReading is one typed row returned by PVLive for a GSP.
type RawReading struct {
	GSPID               int
	DatetimeGMT         time.Time
	GenerationMW        *float64
	InstalledCapacityMW *float64
	CapacityMW          *float64
	UpdatedGMT          time.Time
}

// FetchWindow is the time range pulled in one run. The end is exclusive unless
// IncludeEnd is set.
type FetchWindow struct {
	Start      time.Time
	End        time.Time
	IncludeEnd bool
}

// Contains reports whether t falls inside the window.
func (w FetchWindow) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	if w.IncludeEnd {
		return !t.After(w.End)
	}
	return t.Before(w.End)
}

func (w FetchWindow) String() string {
	closing := ")"
	if w.IncludeEnd {
		closing = "]"
	}
	return fmt.Sprintf("[%s, %s%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), closing)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// FloatString prints pointer values for logging.
func FloatString(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.3f", *v)
}
