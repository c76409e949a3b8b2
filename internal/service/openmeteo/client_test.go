package openmeteo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/service/upstream"
	"SE3Price/pkg/config"
	"SE3Price/pkg/retry"
	xutil "SE3Price/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path      string
	latitude  string
	startDate string
	endDate   string
}

// fakeAPI answers both endpoints with every hour of the requested dates.
// Temperature is the hour of day; wind at 10m is null at 03:00.
type fakeAPI struct {
	mu    sync.Mutex
	calls []recorded
	fail  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.calls = append(f.calls, recorded{r.URL.Path, q.Get("latitude"), q.Get("start_date"), q.Get("end_date")})
	f.mu.Unlock()

	if f.fail != "" && q.Get("latitude") == f.fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"bad coordinates"}`))
		return
	}

	start, _ := time.Parse(time.DateOnly, q.Get("start_date"))
	end, _ := time.Parse(time.DateOnly, q.Get("end_date"))
	var (
		times []string
		temp  []*float64
		wind  []*float64
		other []*float64
	)
	for ts := start; ts.Before(end.AddDate(0, 0, 1)); ts = ts.Add(time.Hour) {
		times = append(times, ts.Format(hourLayout))
		h := float64(ts.Hour())
		temp = append(temp, &h)
		if ts.Hour() == 3 {
			wind = append(wind, nil)
		} else {
			v := 5.0
			wind = append(wind, &v)
		}
		z := 0.0
		other = append(other, &z)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"latitude": 59.33,
		"hourly": map[string]any{
			"time":                     times,
			"temperature_2m":           temp,
			"wind_speed_10m":           wind,
			"wind_speed_80m":           other,
			"direct_normal_irradiance": other,
		},
	})
}

func newTestClient(t *testing.T, api *fakeAPI, locations []config.Location) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	cfg.Weather.ForecastURL = srv.URL + "/forecast"
	cfg.Weather.HistoricalForecastURL = srv.URL + "/historical"
	if locations != nil {
		cfg.Region.Locations = locations
	}

	base := upstream.New("openmeteo", upstream.WithRetryPolicy(retry.New(retry.WithMaxAttempts(1))))
	return NewClient(cfg, base, nil)
}

var stockholm = []config.Location{{Name: "Stockholm", Lat: 59.33, Lon: 18.07, Weight: 1}}

func TestFetchSplitsEndpointsAtAsOf(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, stockholm)

	from := time.Date(2024, 6, 13, 22, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 15, 22, 0, 0, 0, time.UTC)
	asOf := time.Date(2024, 6, 14, 10, 30, 0, 0, time.UTC)

	obs, err := c.Fetch(context.Background(), from, to, asOf)
	require.NoError(t, err)

	require.Len(t, api.calls, 2)
	assert.Equal(t, "/historical", api.calls[0].path)
	assert.Equal(t, "2024-06-13", api.calls[0].startDate)
	assert.Equal(t, "2024-06-14", api.calls[0].endDate)
	assert.Equal(t, "/forecast", api.calls[1].path)
	assert.Equal(t, "2024-06-14", api.calls[1].startDate)
	assert.Equal(t, "2024-06-15", api.calls[1].endDate)

	split := time.Date(2024, 6, 14, 11, 0, 0, 0, time.UTC)
	temps := 0
	for _, o := range obs {
		assert.Equal(t, models.SourceWeather, o.Source)
		assert.Equal(t, models.KindForecast, o.Kind)
		assert.Equal(t, "Stockholm", o.Location)
		assert.False(t, o.Timestamp.Before(from))
		assert.True(t, o.Timestamp.Before(to))
		assert.True(t, o.AvailableAt.Before(o.Timestamp), "%s known at %s", o.Timestamp, o.AvailableAt)
		if o.Timestamp.Before(split) {
			// archived run of the previous day's cutoff
			cutoff := time.Date(o.Timestamp.In(c.loc).Year(), o.Timestamp.In(c.loc).Month(), o.Timestamp.In(c.loc).Day()-1, 12, 0, 0, 0, c.loc)
			assert.Equal(t, cutoff.UTC(), o.AvailableAt)
		} else {
			assert.Equal(t, asOf, o.AvailableAt)
		}
		if o.Field == models.FieldTemperature {
			temps++
			assert.Equal(t, float64(o.Timestamp.Hour()), o.Value)
		}
	}
	assert.Equal(t, 48, temps)
}

func TestFetchSkipsNullValues(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, stockholm)

	from := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	obs, err := c.Fetch(context.Background(), from, from.Add(24*time.Hour), from.Add(48*time.Hour))
	require.NoError(t, err)

	byField := map[string]int{}
	for _, o := range obs {
		byField[o.Field]++
	}
	assert.Equal(t, 24, byField[models.FieldTemperature])
	assert.Equal(t, 23, byField[models.FieldWindSpeed10m])
	assert.Equal(t, 24, byField[models.FieldIrradiance])
	require.Len(t, api.calls, 1)
	assert.Equal(t, "/historical", api.calls[0].path)
}

func TestFetchFutureOnlyUsesLiveForecast(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, stockholm)

	from := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	_, err := c.Fetch(context.Background(), from, from.Add(24*time.Hour), from.Add(-13*time.Hour))
	require.NoError(t, err)
	require.Len(t, api.calls, 1)
	assert.Equal(t, "/forecast", api.calls[0].path)
}

func TestFetchEveryLocation(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, nil)

	from := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	obs, err := c.Fetch(context.Background(), from, from.Add(time.Hour), from.Add(time.Hour))
	require.NoError(t, err)

	locations := map[string]bool{}
	for _, o := range obs {
		locations[o.Location] = true
	}
	assert.Len(t, locations, 4)
	assert.Len(t, obs, 4*len(variables))
}

func TestFetchFailsWhenOneLocationFails(t *testing.T) {
	api := &fakeAPI{fail: "59.8600"}
	c := newTestClient(t, api, nil)

	from := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	obs, err := c.Fetch(context.Background(), from, from.Add(time.Hour), from.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Uppsala")
	assert.Nil(t, obs)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	c := &Client{now: time.Now}
	body := []byte(`{"hourly":{"time":["2024-06-14T00:00"],"temperature_2m":[1,2],"wind_speed_10m":[1],"wind_speed_80m":[1],"direct_normal_irradiance":[1]}}`)
	_, err := c.decode(body, "x", xutil.Range{From: time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)}, nil)
	assert.Error(t, err)
}
