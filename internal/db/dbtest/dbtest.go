// Package dbtest opens throwaway SQLite stores and seeds them for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// NewSQLite opens a SQLite database in a temp dir, closed when t ends.
func NewSQLite(t testing.TB) *db.SQLite {
	t.Helper()
	store, err := db.OpenSQLite(filepath.Join(t.TempDir(), "pvlive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Session runs fn in a committed session and fails t on error.
func Session(t testing.TB, database db.Database, fn func(ctx context.Context, sess db.Session)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, database.WithSession(ctx, func(sess db.Session) error {
		fn(ctx, sess)
		return nil
	}))
}

// Location creates the location for gspID with the given capacity.
func Location(t testing.TB, ctx context.Context, sess db.Session, gspID int, capacityMW *float64) *models.Location {
	t.Helper()
	loc, err := sess.LoadOrCreateLocation(ctx, gspID)
	require.NoError(t, err)
	if capacityMW != nil {
		loc.InstalledCapacityMW = capacityMW
		require.NoError(t, sess.UpdateInstalledCapacity(ctx, loc))
	}
	return loc
}

// Yield saves one yield for loc and returns it.
func Yield(t testing.TB, ctx context.Context, sess db.Session, loc *models.Location, at time.Time, generationKW float64, regime models.Regime) models.YieldRecord {
	t.Helper()
	y := models.YieldRecord{
		Location:          loc,
		DatetimeUTC:       at.UTC(),
		SolarGenerationKW: models.Float(generationKW),
		CapacityMW:        loc.InstalledCapacityMW,
		PVLiveUpdatedUTC:  at.UTC(),
		Regime:            regime,
	}
	require.NoError(t, sess.SaveYields(ctx, []models.YieldRecord{y}))
	return y
}
