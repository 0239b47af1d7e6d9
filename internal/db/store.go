// Package db persists GSP locations and yields. The consumer and the API talk to
// it through the interfaces below; Postgres and SQLite implementations are
// selected by the database URL.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// ErrRollback may be returned from a WithSession callback to discard the
// session's writes without reporting an error.
var ErrRollback = errors.New("rollback requested")

// LocationStore loads and updates GSP locations.
type LocationStore interface {
	// ListLocations returns every stored location ordered by GSP id.
	ListLocations(ctx context.Context) ([]*models.Location, error)

	// LoadLocations returns the stored locations whose GSP id is in gspIDs,
	// duplicates included.
	LoadLocations(ctx context.Context, gspIDs []int) ([]*models.Location, error)

	// LoadOrCreateLocation returns the location for gspID, creating it if absent.
	LoadOrCreateLocation(ctx context.Context, gspID int) (*models.Location, error)

	// AttachLatestYields sets LastYield on each location to its most recent
	// yield for regime at or after since, or nil when there is none.
	AttachLatestYields(ctx context.Context, locations []*models.Location, regime models.Regime, since time.Time) error

	// UpdateInstalledCapacity writes loc.InstalledCapacityMW.
	UpdateInstalledCapacity(ctx context.Context, loc *models.Location) error
}

// YieldStore counts, loads and appends GSP yields.
type YieldStore interface {
	// CountYields counts yields for regime inside window.
	CountYields(ctx context.Context, window models.FetchWindow, regime models.Regime, excludeNational bool) (int, error)

	// LoadYields returns yields for the given GSP ids inside window, ordered by
	// time then GSP id, each with its Location attached.
	LoadYields(ctx context.Context, gspIDs []int, window models.FetchWindow, regime models.Regime) ([]models.YieldRecord, error)

	// SaveYields appends yields. Callers guarantee there are no duplicates.
	SaveYields(ctx context.Context, yields []models.YieldRecord) error
}

// Session is one unit of work against the database.
type Session interface {
	LocationStore
	YieldStore
}

// Database opens sessions.
type Database interface {
	// WithSession runs fn in a single transaction, committing when fn returns
	// nil and rolling back otherwise.
	WithSession(ctx context.Context, fn func(Session) error) error
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Open connects to the database named by url. URLs starting with sqlite://
// open a SQLite file, anything else is handed to pgx.
func Open(ctx context.Context, url string) (Database, error) {
	if path, ok := strings.CutPrefix(url, "sqlite://"); ok {
		return OpenSQLite(path)
	}
	return OpenPostgres(ctx, url)
}

func locationIDs(locations []*models.Location) []int64 {
	ids := make([]int64, 0, len(locations))
	for _, loc := range locations {
		ids = append(ids, loc.ID)
	}
	return ids
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func errMissingLocation(y models.YieldRecord) error {
	return fmt.Errorf("yield at %s has no persisted location", y.DatetimeUTC.Format(time.RFC3339))
}
