package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCounters(t *testing.T) {
	r := NewRun("in-day")

	r.ObserveFetch(ResultSuccess, 20*time.Millisecond)
	r.ObserveFetch(ResultSuccess, 10*time.Millisecond)
	r.ObserveFetch(ResultError, time.Second)
	r.AddSaved(SourcePVLive, 40)
	r.AddSaved(SourceNational, 0)
	r.IncFlush()
	r.IncCapacityUpdate()
	r.SetLocations("eligible", 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.fetches.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetches.WithLabelValues(ResultError)))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.yieldsSaved.WithLabelValues(SourcePVLive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.flushes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.capacityMoves))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.locations.WithLabelValues("eligible")))

	// Adding zero never creates the national series.
	assert.Equal(t, 1, testutil.CollectAndCount(r.yieldsSaved))
}

func TestRunFinish(t *testing.T) {
	r := NewRun("day-after")
	started := time.Unix(1_700_000_000, 0)

	r.Finish(started, started.Add(90*time.Second), false)
	assert.Equal(t, 90.0, testutil.ToFloat64(r.duration))
	assert.Zero(t, testutil.ToFloat64(r.lastSuccess))

	r.Finish(started, started.Add(time.Minute), true)
	assert.Equal(t, float64(started.Add(time.Minute).Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestNilRunIsSafe(t *testing.T) {
	var r *Run
	r.ObserveFetch(ResultEmpty, time.Second)
	r.AddSaved(SourcePVLive, 1)
	r.IncFlush()
	r.IncCapacityUpdate()
	r.SetLocations("loaded", 1)
	r.Finish(time.Now(), time.Now(), true)
	assert.NoError(t, r.Push(context.Background(), "http://unused"))
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRun("in-day")
	r.IncFlush()

	require.NoError(t, r.Push(context.Background(), ""))
	assert.Empty(t, path)

	require.NoError(t, r.Push(context.Background(), srv.URL))
	assert.Equal(t, "/metrics/job/"+jobName, path)
	assert.NotEmpty(t, body)
}

func TestPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewRun("in-day").Push(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "push metrics"))
}
