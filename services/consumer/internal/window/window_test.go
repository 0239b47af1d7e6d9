package window

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

func TestComputeInDay(t *testing.T) {
	now := time.Date(2022, 1, 1, 12, 10, 0, 0, time.UTC)

	w := Compute(models.RegimeInDay, now, DefaultBackfill)

	assert.Equal(t, time.Date(2022, 1, 1, 10, 10, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2022, 1, 1, 12, 40, 0, 0, time.UTC), w.End)
	assert.False(t, w.IncludeEnd)
	assert.False(t, w.Contains(w.End))
	assert.True(t, w.Contains(w.Start))
}

func TestComputeDayAfter(t *testing.T) {
	now := time.Date(2022, 1, 2, 10, 45, 13, 0, time.UTC)

	w := Compute(models.RegimeDayAfter, now, DefaultBackfill)

	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.IncludeEnd)
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.End.Add(time.Second)))
	// Both midnights are included: 49 settlement periods.
	assert.Len(t, HalfHours(w.Start, w.End), 49)
}

func TestComputeUsesUTC(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	// 00:30 BST on 1 July is still 30 June in UTC.
	now := time.Date(2022, 7, 1, 0, 30, 0, 0, london)

	w := Compute(models.RegimeDayAfter, now, DefaultBackfill)

	assert.Equal(t, time.Date(2022, 6, 29, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2022, 6, 30, 0, 0, 0, 0, time.UTC), w.End)
}

func TestRoundUpToHalfHour(t *testing.T) {
	cases := []struct {
		in, want time.Time
	}{
		{time.Date(2022, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(2022, 1, 1, 10, 0, 0, 0, time.UTC)},
		{time.Date(2022, 1, 1, 10, 30, 0, 0, time.UTC), time.Date(2022, 1, 1, 10, 30, 0, 0, time.UTC)},
		{time.Date(2022, 1, 1, 10, 0, 1, 0, time.UTC), time.Date(2022, 1, 1, 10, 30, 0, 0, time.UTC)},
		{time.Date(2022, 1, 1, 10, 10, 0, 0, time.UTC), time.Date(2022, 1, 1, 10, 30, 0, 0, time.UTC)},
		{time.Date(2022, 1, 1, 23, 45, 0, 0, time.UTC), time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC)},
		{time.Date(2022, 1, 1, 10, 30, 0, 500, time.UTC), time.Date(2022, 1, 1, 10, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundUpToHalfHour(tc.in), tc.in.String())
	}
}

func TestHalfHoursInclusive(t *testing.T) {
	start := time.Date(2022, 1, 1, 10, 0, 0, 0, time.UTC)

	got := HalfHours(start, start.Add(90*time.Minute))

	require.Len(t, got, 4)
	assert.Equal(t, start, got[0])
	assert.Equal(t, start.Add(90*time.Minute), got[3])
	assert.Empty(t, HalfHours(start, start.Add(-time.Minute)))
}

func TestCheckUKLondonHour(t *testing.T) {
	hour := 12
	winter := time.Date(2022, 1, 15, 12, 5, 0, 0, time.UTC)
	summer := time.Date(2022, 7, 15, 12, 5, 0, 0, time.UTC)

	assert.NoError(t, CheckUKLondonHour(nil, winter))
	assert.NoError(t, CheckUKLondonHour(&hour, winter))

	err := CheckUKLondonHour(&hour, summer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrongHour))

	bst := 13
	assert.NoError(t, CheckUKLondonHour(&bst, summer))
}
