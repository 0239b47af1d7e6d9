package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/db/dbtest"
	"github.com/gridwatch/pvlive-consumer/internal/models"
)

var day = models.FetchWindow{
	Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC),
}

func TestOpenSQLiteURL(t *testing.T) {
	database, err := db.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer database.Close()

	_, ok := database.(*db.SQLite)
	assert.True(t, ok)
	require.NoError(t, database.EnsureSchema(context.Background()))
}

func TestLoadOrCreateLocation(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		national, err := sess.LoadOrCreateLocation(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, models.NationalLabel, national.Label)
		assert.Nil(t, national.InstalledCapacityMW)

		first, err := sess.LoadOrCreateLocation(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "GSP_7", first.Label)
		assert.NotZero(t, first.ID)

		again, err := sess.LoadOrCreateLocation(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		all, err := sess.ListLocations(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestUpdateInstalledCapacity(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		dbtest.Location(t, ctx, sess, 3, models.Float(12.5))

		locs, err := sess.LoadLocations(ctx, []int{3})
		require.NoError(t, err)
		require.Len(t, locs, 1)
		require.NotNil(t, locs[0].InstalledCapacityMW)
		assert.InDelta(t, 12.5, *locs[0].InstalledCapacityMW, 1e-9)
	})
}

func TestSaveAndLoadYieldsRoundTrip(t *testing.T) {
	store := dbtest.NewSQLite(t)
	at := time.Date(2022, 1, 1, 12, 30, 0, 0, time.UTC)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		loc := dbtest.Location(t, ctx, sess, 1, models.Float(10))
		require.NoError(t, sess.SaveYields(ctx, []models.YieldRecord{{
			Location:            loc,
			DatetimeUTC:         at,
			SolarGenerationKW:   models.Float(1234.5),
			InstalledCapacityMW: models.Float(10),
			CapacityMW:          models.Float(9.5),
			PVLiveUpdatedUTC:    at.Add(5 * time.Minute),
			Regime:              models.RegimeInDay,
		}}))
	})

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		yields, err := sess.LoadYields(ctx, []int{1}, day, models.RegimeInDay)
		require.NoError(t, err)
		require.Len(t, yields, 1)

		y := yields[0]
		assert.True(t, at.Equal(y.DatetimeUTC))
		require.NotNil(t, y.SolarGenerationKW)
		assert.InDelta(t, 1234.5, *y.SolarGenerationKW, 1e-9)
		assert.Equal(t, models.RegimeInDay, y.Regime)
		assert.True(t, at.Add(5*time.Minute).Equal(y.PVLiveUpdatedUTC))
		require.NotNil(t, y.Location)
		assert.Equal(t, 1, y.Location.GSPID)

		other, err := sess.LoadYields(ctx, []int{1}, day, models.RegimeDayAfter)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestSaveYieldsAppends(t *testing.T) {
	store := dbtest.NewSQLite(t)
	at := day.Start.Add(12 * time.Hour)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		loc := dbtest.Location(t, ctx, sess, 1, nil)
		dbtest.Yield(t, ctx, sess, loc, at, 10, models.RegimeInDay)
		dbtest.Yield(t, ctx, sess, loc, at, 20, models.RegimeInDay)

		yields, err := sess.LoadYields(ctx, []int{1}, day, models.RegimeInDay)
		require.NoError(t, err)
		require.Len(t, yields, 2)
		assert.InDelta(t, 10, *yields[0].SolarGenerationKW, 1e-9)
		assert.InDelta(t, 20, *yields[1].SolarGenerationKW, 1e-9)
	})
}

func TestSaveYieldsNeedsPersistedLocation(t *testing.T) {
	store := dbtest.NewSQLite(t)

	err := store.WithSession(context.Background(), func(sess db.Session) error {
		return sess.SaveYields(context.Background(), []models.YieldRecord{{
			Location:    &models.Location{GSPID: 4},
			DatetimeUTC: day.Start,
			Regime:      models.RegimeInDay,
		}})
	})
	assert.Error(t, err)
}

func TestCountYieldsExcludesNational(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		national := dbtest.Location(t, ctx, sess, 0, models.Float(10))
		dbtest.Yield(t, ctx, sess, national, day.Start.Add(time.Hour), 1, models.RegimeInDay)
		for id := 1; id <= 3; id++ {
			loc := dbtest.Location(t, ctx, sess, id, models.Float(float64(id)))
			dbtest.Yield(t, ctx, sess, loc, day.Start.Add(time.Duration(id)*time.Hour), 5, models.RegimeInDay)
		}

		regional, err := sess.CountYields(ctx, day, models.RegimeInDay, true)
		require.NoError(t, err)
		assert.Equal(t, 3, regional)

		all, err := sess.CountYields(ctx, day, models.RegimeInDay, false)
		require.NoError(t, err)
		assert.Equal(t, 4, all)

		dayAfter, err := sess.CountYields(ctx, day, models.RegimeDayAfter, false)
		require.NoError(t, err)
		assert.Zero(t, dayAfter)
	})
}

func TestWindowEndBoundary(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		loc := dbtest.Location(t, ctx, sess, 1, nil)
		dbtest.Yield(t, ctx, sess, loc, day.End, 1, models.RegimeDayAfter)

		open, err := sess.CountYields(ctx, day, models.RegimeDayAfter, true)
		require.NoError(t, err)
		assert.Zero(t, open)

		closed := day
		closed.IncludeEnd = true
		n, err := sess.CountYields(ctx, closed, models.RegimeDayAfter, true)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		yields, err := sess.LoadYields(ctx, []int{1}, closed, models.RegimeDayAfter)
		require.NoError(t, err)
		assert.Len(t, yields, 1)
	})
}

func TestAttachLatestYields(t *testing.T) {
	store := dbtest.NewSQLite(t)
	now := time.Date(2022, 1, 10, 12, 0, 0, 0, time.UTC)

	var locs []*models.Location
	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		a := dbtest.Location(t, ctx, sess, 1, nil)
		b := dbtest.Location(t, ctx, sess, 2, nil)
		c := dbtest.Location(t, ctx, sess, 3, nil)
		locs = []*models.Location{a, b, c}

		dbtest.Yield(t, ctx, sess, a, now.Add(-2*time.Hour), 1, models.RegimeInDay)
		dbtest.Yield(t, ctx, sess, a, now.Add(-time.Hour), 2, models.RegimeInDay)
		dbtest.Yield(t, ctx, sess, a, now.Add(-30*time.Minute), 3, models.RegimeDayAfter)
		// Older than the lookback.
		dbtest.Yield(t, ctx, sess, b, now.Add(-8*24*time.Hour), 4, models.RegimeInDay)
	})

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		require.NoError(t, sess.AttachLatestYields(ctx, locs, models.RegimeInDay, now.Add(-7*24*time.Hour)))

		require.NotNil(t, locs[0].LastYield)
		assert.True(t, now.Add(-time.Hour).Equal(locs[0].LastYield.DatetimeUTC))
		assert.InDelta(t, 2, *locs[0].LastYield.SolarGenerationKW, 1e-9)
		assert.Same(t, locs[0], locs[0].LastYield.Location)

		assert.Nil(t, locs[1].LastYield)
		assert.Nil(t, locs[2].LastYield)
	})
}

func TestErrRollbackDiscardsWrites(t *testing.T) {
	store := dbtest.NewSQLite(t)
	ctx := context.Background()

	err := store.WithSession(ctx, func(sess db.Session) error {
		if _, err := sess.LoadOrCreateLocation(ctx, 1); err != nil {
			return err
		}
		return db.ErrRollback
	})
	require.NoError(t, err)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		all, err := sess.ListLocations(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestLoadLocationsReturnsDuplicates(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		dbtest.Location(t, ctx, sess, 1, nil)
		// A second row for the same GSP bypasses LoadOrCreateLocation.
		require.NoError(t, db.InsertLocationRow(ctx, sess, 1))

		locs, err := sess.LoadLocations(ctx, []int{0, 1})
		require.NoError(t, err)
		assert.Len(t, locs, 2)
	})
}
