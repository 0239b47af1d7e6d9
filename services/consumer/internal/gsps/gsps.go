// Package gsps loads the set of GSP locations a run works on and decides which
// of them are due for a fetch.
package gsps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/models"
	"github.com/gridwatch/pvlive-consumer/services/consumer/internal/window"
)

// LatestYieldLookback bounds the search for each location's most recent yield.
const LatestYieldLookback = 7 * 24 * time.Hour

var (
	// ErrDuplicateGSPs means storage holds more than one location for a GSP id.
	ErrDuplicateGSPs = errors.New("duplicate gsp locations")

	// ErrGSPCountMismatch means the registry could not produce the expected set.
	ErrGSPCountMismatch = errors.New("gsp count mismatch")
)

// DuplicateError describes the locations that share a GSP id. Nothing is
// repaired automatically; Keep names, per duplicated GSP id, the lowest row id,
// which is the row an operator should keep.
type DuplicateError struct {
	GSPIDs    []int
	Locations []*models.Location
	Keep      map[int]int64
}

func (e *DuplicateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: gsp ids %v", ErrDuplicateGSPs, e.GSPIDs)
	for _, id := range e.GSPIDs {
		fmt.Fprintf(&b, "; gsp %d keep row %d", id, e.Keep[id])
	}
	b.WriteString("; locations:")
	for _, loc := range e.Locations {
		fmt.Fprintf(&b, " (%d,%s)", loc.GSPID, loc.Label)
	}
	return b.String()
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateGSPs }

// ExpectedIDs returns 1..n, prefixed with the national id when includeNational.
func ExpectedIDs(n int, includeNational bool) []int {
	ids := make([]int, 0, n+1)
	if includeNational {
		ids = append(ids, models.NationalGSPID)
	}
	for id := 1; id <= n; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Registry loads the expected GSP locations.
type Registry struct {
	store  db.LocationStore
	logger *slog.Logger
}

// NewRegistry builds a Registry over store.
func NewRegistry(store db.LocationStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// Load returns exactly one location per expected GSP id, creating any that are
// missing, with each location's latest yield for regime (within the last
// seven days of now) attached.
func (r *Registry) Load(ctx context.Context, n int, includeNational bool, regime models.Regime, now time.Time) ([]*models.Location, error) {
	expected := ExpectedIDs(n, includeNational)

	locations, err := r.store.LoadLocations(ctx, expected)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	r.logger.Debug("loaded locations", "found", len(locations), "expected", len(expected))

	if dup := duplicates(locations); dup != nil {
		return nil, dup
	}

	missing, err := r.createMissing(ctx, expected, locations)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		r.logger.Warn("created missing locations", "created", len(missing), "found", len(locations), "expected", len(expected))
		locations = append(missing, locations...)
	}

	if len(locations) != len(expected) {
		return nil, fmt.Errorf("%w: have %d locations, expected %d", ErrGSPCountMismatch, len(locations), len(expected))
	}

	since := now.Add(-LatestYieldLookback)
	if err := r.store.AttachLatestYields(ctx, locations, regime, since); err != nil {
		return nil, fmt.Errorf("attach latest yields: %w", err)
	}
	return locations, nil
}

func (r *Registry) createMissing(ctx context.Context, expected []int, found []*models.Location) ([]*models.Location, error) {
	have := make(map[int]bool, len(found))
	for _, loc := range found {
		have[loc.GSPID] = true
	}

	var missing []*models.Location
	for _, id := range expected {
		if have[id] {
			continue
		}
		loc, err := r.store.LoadOrCreateLocation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load or create gsp %d: %w", id, err)
		}
		r.logger.Debug("created location", "gsp_id", id, "label", loc.Label)
		missing = append(missing, loc)
	}
	return missing, nil
}

// duplicates reports every GSP id held by more than one location, or nil.
func duplicates(locations []*models.Location) *DuplicateError {
	seen := make(map[int]int64, len(locations))
	keep := make(map[int]int64)
	for _, loc := range locations {
		first, ok := seen[loc.GSPID]
		if !ok {
			seen[loc.GSPID] = loc.ID
			continue
		}
		lowest := min(first, loc.ID)
		if k, dup := keep[loc.GSPID]; dup {
			lowest = min(lowest, k)
		}
		keep[loc.GSPID] = lowest
	}
	if len(keep) == 0 {
		return nil
	}

	ids := make([]int, 0, len(keep))
	for id := range keep {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return &DuplicateError{GSPIDs: ids, Locations: locations, Keep: keep}
}

// SelectEligible keeps locations with no previous yield, or whose previous
// yield is more than one settlement period before now. A location whose last
// yield is exactly 30 minutes old is kept.
func SelectEligible(locations []*models.Location, now time.Time) []*models.Location {
	out := make([]*models.Location, 0, len(locations))
	for _, loc := range locations {
		last := loc.LastYield
		if last == nil || !last.DatetimeUTC.Add(window.SettlementPeriod).After(now) {
			out = append(out, loc)
		}
	}
	return out
}
