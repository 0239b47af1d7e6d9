package gsps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/pvlive-consumer/internal/db"
	"github.com/gridwatch/pvlive-consumer/internal/db/dbtest"
	"github.com/gridwatch/pvlive-consumer/internal/logging"
	"github.com/gridwatch/pvlive-consumer/internal/models"
)

var now = time.Date(2022, 1, 10, 12, 0, 0, 0, time.UTC)

func TestExpectedIDs(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3}, ExpectedIDs(3, true))
	assert.Equal(t, []int{1, 2, 3}, ExpectedIDs(3, false))
	assert.Equal(t, []int{0}, ExpectedIDs(0, true))
}

func TestLoadCreatesMissing(t *testing.T) {
	for _, initial := range [][]int{nil, {0, 2}, {0, 1, 2, 3, 4, 5}} {
		store := dbtest.NewSQLite(t)
		dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
			for _, id := range initial {
				dbtest.Location(t, ctx, sess, id, nil)
			}

			locs, err := NewRegistry(sess, logging.Discard()).Load(ctx, 5, true, models.RegimeInDay, now)
			require.NoError(t, err)
			require.Len(t, locs, 6)

			seen := map[int]bool{}
			for _, loc := range locs {
				seen[loc.GSPID] = true
				assert.NotZero(t, loc.ID)
			}
			assert.Len(t, seen, 6)
		})
	}
}

func TestLoadWithoutNational(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		locs, err := NewRegistry(sess, logging.Discard()).Load(ctx, 3, false, models.RegimeInDay, now)
		require.NoError(t, err)
		require.Len(t, locs, 3)
		for _, loc := range locs {
			assert.False(t, loc.IsNational())
		}
	})
}

func TestLoadAttachesLatestYield(t *testing.T) {
	store := dbtest.NewSQLite(t)

	dbtest.Session(t, store, func(ctx context.Context, sess db.Session) {
		loc := dbtest.Location(t, ctx, sess, 1, nil)
		dbtest.Yield(t, ctx, sess, loc, now.Add(-time.Hour), 10, models.RegimeInDay)
		dbtest.Yield(t, ctx, sess, loc, now.Add(-8*24*time.Hour), 20, models.RegimeInDay)
		old := dbtest.Location(t, ctx, sess, 2, nil)
		dbtest.Yield(t, ctx, sess, old, now.Add(-8*24*time.Hour), 30, models.RegimeInDay)

		locs, err := NewRegistry(sess, logging.Discard()).Load(ctx, 2, true, models.RegimeInDay, now)
		require.NoError(t, err)

		byGSP := map[int]*models.Location{}
		for _, l := range locs {
			byGSP[l.GSPID] = l
		}
		require.NotNil(t, byGSP[1].LastYield)
		assert.True(t, now.Add(-time.Hour).Equal(byGSP[1].LastYield.DatetimeUTC))
		assert.Nil(t, byGSP[2].LastYield)
		assert.Nil(t, byGSP[0].LastYield)
	})
}

// fakeLocations serves a fixed set of locations, duplicates included.
type fakeLocations struct {
	locations []*models.Location
	created   []int

	// ignoreFilter returns every location from LoadLocations.
	ignoreFilter bool
}

func (f *fakeLocations) ListLocations(context.Context) ([]*models.Location, error) {
	return f.locations, nil
}

func (f *fakeLocations) LoadLocations(_ context.Context, ids []int) ([]*models.Location, error) {
	if f.ignoreFilter {
		return f.locations, nil
	}
	want := map[int]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*models.Location
	for _, loc := range f.locations {
		if want[loc.GSPID] {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (f *fakeLocations) LoadOrCreateLocation(_ context.Context, id int) (*models.Location, error) {
	f.created = append(f.created, id)
	return &models.Location{ID: int64(100 + id), GSPID: id, Label: models.DefaultLabel(id)}, nil
}

func (f *fakeLocations) AttachLatestYields(context.Context, []*models.Location, models.Regime, time.Time) error {
	return nil
}

func (f *fakeLocations) UpdateInstalledCapacity(context.Context, *models.Location) error {
	return nil
}

func TestLoadDuplicatesAreFatal(t *testing.T) {
	store := &fakeLocations{locations: []*models.Location{
		{ID: 1, GSPID: 0, Label: "National-GB"},
		{ID: 2, GSPID: 1, Label: "GSP_1"},
		{ID: 7, GSPID: 1, Label: "GSP_1 copy"},
		{ID: 3, GSPID: 2, Label: "GSP_2"},
		{ID: 9, GSPID: 2, Label: "GSP_2 copy"},
		{ID: 5, GSPID: 2, Label: "GSP_2 copy 2"},
	}}

	locs, err := NewRegistry(store, logging.Discard()).Load(context.Background(), 2, true, models.RegimeInDay, now)

	assert.Nil(t, locs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateGSPs))

	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []int{1, 2}, dup.GSPIDs)
	assert.Equal(t, map[int]int64{1: 2, 2: 3}, dup.Keep)
	assert.Len(t, dup.Locations, 6)
	assert.Contains(t, err.Error(), "(2,GSP_2 copy 2)")
	assert.Empty(t, store.created)
}

func TestLoadDuplicateHidingMissingGSP(t *testing.T) {
	// Two rows for national make up the count of the absent GSP 2.
	store := &fakeLocations{locations: []*models.Location{
		{ID: 1, GSPID: 0, Label: "National-GB"},
		{ID: 2, GSPID: 0, Label: "National-GB"},
		{ID: 3, GSPID: 1, Label: "GSP_1"},
	}}

	locs, err := NewRegistry(store, logging.Discard()).Load(context.Background(), 2, true, models.RegimeInDay, now)

	assert.Nil(t, locs)
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []int{0}, dup.GSPIDs)
	assert.Equal(t, map[int]int64{0: 1}, dup.Keep)
	assert.Empty(t, store.created)
}

func TestLoadCountMismatch(t *testing.T) {
	// The store hands back a location outside the expected ids.
	store := &fakeLocations{locations: []*models.Location{
		{ID: 1, GSPID: 1, Label: "GSP_1"},
		{ID: 2, GSPID: 9, Label: "GSP_9"},
	}}
	store.ignoreFilter = true

	_, err := NewRegistry(store, logging.Discard()).Load(context.Background(), 2, false, models.RegimeInDay, now)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGSPCountMismatch))
	assert.Equal(t, []int{2}, store.created)
}

func TestSelectEligible(t *testing.T) {
	fresh := &models.Location{GSPID: 1}
	fresh.LastYield = &models.YieldRecord{DatetimeUTC: now.Add(-29 * time.Minute)}
	exactly := &models.Location{GSPID: 2}
	exactly.LastYield = &models.YieldRecord{DatetimeUTC: now.Add(-30 * time.Minute)}
	stale := &models.Location{GSPID: 3}
	stale.LastYield = &models.YieldRecord{DatetimeUTC: now.Add(-2 * time.Hour)}
	never := &models.Location{GSPID: 4}

	got := SelectEligible([]*models.Location{fresh, exactly, stale, never}, now)

	assert.Equal(t, []*models.Location{exactly, stale, never}, got)
}
