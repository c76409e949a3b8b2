package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New(nil)
	r.RecordFetch("market", "price", 24)
	r.RecordFetch("market", "price", 24)
	r.RecordRetry("entsoe")
	r.RecordError("fetch")
	r.RecordCleaning(240, 3)
	r.RecordRowsUpserted(48)
	r.RecordTrainingMetric("test", "mae", 6.5)
	r.RecordPredictions("forecast", 24)
	r.RecordLatency("inference", 0.2)
	r.RecordJobSuccess("daily", time.Unix(1718359200, 0))

	assert.Equal(t, 48.0, testutil.ToFloat64(r.fetched.WithLabelValues("market", "price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("entsoe")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.cleanedHours.WithLabelValues("excluded")))
	assert.Equal(t, 48.0, testutil.ToFloat64(r.upserted))
	assert.Equal(t, 6.5, testutil.ToFloat64(r.training.WithLabelValues("test", "mae")))
	assert.Equal(t, 1718359200.0, testutil.ToFloat64(r.lastSuccess.WithLabelValues("daily")))

	n, err := testutil.GatherAndCount(r.Gatherer(), "se3price_predictions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(nil), New(nil)
	a.RecordError("fetch")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.errorsTotal.WithLabelValues("fetch")))
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(nil)
	r.RecordRowsUpserted(5)
	require.NoError(t, r.Push(context.Background(), srv.URL, "se3price_daily"))
	assert.Equal(t, "/metrics/job/se3price_daily", path)
	assert.NotEmpty(t, body)
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	assert.Error(t, New(nil).Push(context.Background(), srv.URL, "job"))
}
