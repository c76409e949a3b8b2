package features

import (
	"math"
	"testing"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

var oneLocation = []config.Location{{Name: "Stockholm", Lat: 59.33, Lon: 18.07, Weight: 1}}

// testFrame builds an aligned frame of n hours. Prices equal the hour offset
// and are known 11h before delivery; every forecast is known 12h before.
func testFrame(n int, locs []config.Location) *models.CleanedFrame {
	f := &models.CleanedFrame{Series: make(map[models.SeriesKey]*models.CleanedSeries)}
	for i := 0; i < n; i++ {
		f.Index = append(f.Index, t0.Add(time.Duration(i)*time.Hour))
	}
	add := func(key models.SeriesKey, kind models.Kind, lead time.Duration, value func(i int) float64) {
		s := &models.CleanedSeries{Key: key, Kind: kind}
		for i, ts := range f.Index {
			s.Points = append(s.Points, models.CleanedPoint{Timestamp: ts, Value: value(i), AvailableAt: ts.Add(-lead)})
		}
		f.Series[key] = s
	}
	add(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldPrice}, models.KindActual, 11*time.Hour,
		func(i int) float64 { return float64(i) })
	add(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldLoadForecast}, models.KindForecast, 12*time.Hour,
		func(int) float64 { return 1000 })
	add(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldWindForecast}, models.KindForecast, 12*time.Hour,
		func(int) float64 { return 300 })
	add(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldSolarForecast}, models.KindForecast, 12*time.Hour,
		func(int) float64 { return 100 })
	for j, l := range locs {
		offset := float64(10 * j)
		for _, field := range models.WeatherFields {
			add(models.SeriesKey{Source: models.SourceWeather, Field: field, Location: l.Name}, models.KindForecast, 12*time.Hour,
				func(int) float64 { return 10 + offset })
		}
	}
	return f
}

func newTestAssembler(t *testing.T, locs []config.Location, holidays ...string) *Assembler {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	cal, err := NewFixedCalendar(loc, holidays)
	require.NoError(t, err)
	a, err := NewAssembler(locs, cal, loc)
	require.NoError(t, err)
	return a
}

func value(t *testing.T, r models.FeatureRow, name string) float64 {
	t.Helper()
	v, ok := r.Value(name)
	require.True(t, ok, "column %s", name)
	return v
}

func TestColumnsAreUniqueAndStable(t *testing.T) {
	cols := Columns()
	seen := make(map[string]bool)
	for _, c := range cols {
		assert.False(t, seen[c], "duplicate column %s", c)
		seen[c] = true
	}
	assert.Equal(t, cols, Columns())
	assert.Equal(t, "hour", cols[0])
	assert.Contains(t, cols, "price_rolling_std_168h_missing")
	assert.NotContains(t, RequiredColumns(), "price_lag_1h")
	assert.Contains(t, RequiredColumns(), "load_forecast")
}

func TestAssembleLagsAndRollingWindows(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(200, oneLocation)

	table, err := a.Assemble(frame, t0, t0.Add(200*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 200, table.Len())
	assert.Equal(t, Columns(), table.Columns)

	row := table.Rows[168]
	assert.Equal(t, 167.0, value(t, row, "price_lag_1h"))
	assert.Equal(t, 144.0, value(t, row, "price_lag_24h"))
	assert.Equal(t, 0.0, value(t, row, "price_lag_168h"))
	// window is [ts-24h, ts-1h] and never includes ts itself
	assert.InDelta(t, 155.5, value(t, row, "price_rolling_mean_24h"), 1e-9)
	assert.Equal(t, 144.0, value(t, row, "price_rolling_min_24h"))
	assert.Equal(t, 167.0, value(t, row, "price_rolling_max_24h"))
	assert.InDelta(t, 83.5, value(t, row, "price_rolling_mean_168h"), 1e-9)
	assert.Equal(t, 1.0, value(t, row, "price_diff_1h"))
	assert.Equal(t, 24.0, value(t, row, "price_diff_24h"))
	assert.Equal(t, 168.0, row.Target)
	for _, c := range historyColumns() {
		assert.Equal(t, 0.0, value(t, row, c+"_missing"), c)
	}
}

func TestAssembleMarksMissingHistory(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	table, err := a.Assemble(testFrame(48, oneLocation), t0, t0.Add(48*time.Hour))
	require.NoError(t, err)

	first := table.Rows[0]
	assert.True(t, math.IsNaN(value(t, first, "price_lag_1h")))
	assert.Equal(t, 1.0, value(t, first, "price_lag_1h_missing"))

	row := table.Rows[30]
	assert.Equal(t, 29.0, value(t, row, "price_lag_1h"))
	assert.Equal(t, 6.0, value(t, row, "price_lag_24h"))
	assert.True(t, math.IsNaN(value(t, row, "price_lag_168h")), "never zero filled")
	assert.Equal(t, 1.0, value(t, row, "price_lag_168h_missing"))
	assert.Equal(t, 1.0, value(t, row, "price_rolling_mean_168h_missing"))
	assert.Equal(t, 0.0, value(t, row, "price_rolling_mean_24h_missing"))
}

func TestAssembleMasksPricesNotYetPublished(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(48, oneLocation)
	price := frame.Lookup(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldPrice})
	for i := range price.Points {
		price.Points[i].AvailableAt = price.Points[i].Timestamp.Add(12 * time.Hour)
	}

	table, err := a.Assemble(frame, t0, t0.Add(48*time.Hour))
	require.NoError(t, err)

	// lag 1h was published 11h after the row hour
	row := table.Rows[30]
	assert.True(t, math.IsNaN(value(t, row, "price_lag_1h")))
	assert.Equal(t, 1.0, value(t, row, "price_lag_1h_missing"))
	assert.Equal(t, 6.0, value(t, row, "price_lag_24h"))
}

func TestAssembleRejectsFeatureKnownTooLate(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(48, oneLocation)
	load := frame.Lookup(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldLoadForecast})
	load.Points[20].AvailableAt = load.Points[20].Timestamp

	table, err := a.Assemble(frame, t0, t0.Add(48*time.Hour))
	assert.Nil(t, table)

	var fi *models.FeatureIntegrityError
	require.ErrorAs(t, err, &fi)
	assert.Equal(t, t0.Add(20*time.Hour), fi.Timestamp)
	assert.Equal(t, "load_forecast", fi.Feature)
}

func TestAssembleRejectsRealizedWeather(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(24, oneLocation)
	frame.Lookup(models.SeriesKey{Source: models.SourceWeather, Field: models.FieldTemperature, Location: "Stockholm"}).Kind = models.KindActual

	_, err := a.Assemble(frame, t0, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, models.ErrFeatureIntegrity)
}

func TestAssembleRejectsMisalignedSeries(t *testing.T) {
	a := newTestAssembler(t, oneLocation)

	frame := testFrame(24, oneLocation)
	wind := frame.Lookup(models.SeriesKey{Source: models.SourceWeather, Field: models.FieldWindSpeed10m, Location: "Stockholm"})
	wind.Points = append(wind.Points[:5], wind.Points[6:]...)
	_, err := a.Assemble(frame, t0, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, models.ErrFeatureIntegrity)

	frame = testFrame(24, oneLocation)
	frame.Index[3] = frame.Index[2]
	_, err = a.Assemble(frame, t0, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, models.ErrFeatureIntegrity)

	frame = testFrame(24, oneLocation)
	delete(frame.Series, models.SeriesKey{Source: models.SourceMarket, Field: models.FieldSolarForecast})
	_, err = a.Assemble(frame, t0, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, models.ErrFeatureIntegrity)
}

func TestAssembleWeightsWeatherLocations(t *testing.T) {
	locs := []config.Location{
		{Name: "Stockholm", Weight: 0.25},
		{Name: "Goteborg", Weight: 0.75},
	}
	a := newTestAssembler(t, locs)

	table, err := a.Assemble(testFrame(24, locs), t0, t0.Add(24*time.Hour))
	require.NoError(t, err)

	row := table.Rows[0]
	// 0.25*10 + 0.75*20
	assert.InDelta(t, 17.5, value(t, row, "temperature_avg"), 1e-9)
	assert.InDelta(t, 17.5, value(t, row, "wind_speed_80m_avg"), 1e-9)
	assert.InDelta(t, 300/math.Pow(17.5, 3), value(t, row, "wind_efficiency"), 1e-12)
	assert.InDelta(t, 17.5*1000, value(t, row, "temp_load_interaction"), 1e-6)
}

func TestAssembleMarketDerivedFeatures(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	table, err := a.Assemble(testFrame(24, oneLocation), t0, t0.Add(24*time.Hour))
	require.NoError(t, err)

	row := table.Rows[5]
	assert.Equal(t, 600.0, value(t, row, "residual_load"))
	assert.InDelta(t, 0.4, value(t, row, "renewable_ratio"), 1e-12)
	assert.Equal(t, 0.0, value(t, row, "renewable_surplus"))
	assert.InDelta(t, 0.6, value(t, row, "load_stress"), 1e-12)
}

func TestAssembleRenewableRatioWithZeroLoad(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(24, oneLocation)
	load := frame.Lookup(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldLoadForecast})
	for i := range load.Points {
		load.Points[i].Value = 0
	}

	table, err := a.Assemble(frame, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)

	row := table.Rows[5]
	assert.Equal(t, 0.0, value(t, row, "renewable_ratio"))
	assert.Equal(t, 0.0, value(t, row, "load_stress"))
	assert.Equal(t, -400.0, value(t, row, "residual_load"))
	assert.Equal(t, 400.0, value(t, row, "renewable_surplus"))
}

func TestAssembleHourCycleIsContinuousAtMidnight(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	table, err := a.Assemble(testFrame(48, oneLocation), t0, t0.Add(48*time.Hour))
	require.NoError(t, err)

	// t0 is 01:00 in Stockholm, so row 22 is 23:00 and row 23 is midnight
	late, midnight, one := table.Rows[22], table.Rows[23], table.Rows[24]
	require.Equal(t, 23.0, value(t, late, "hour"))
	require.Equal(t, 0.0, value(t, midnight, "hour"))

	dist := func(x, y models.FeatureRow) float64 {
		return math.Hypot(value(t, x, "hour_sin")-value(t, y, "hour_sin"), value(t, x, "hour_cos")-value(t, y, "hour_cos"))
	}
	step := 2 * math.Sin(math.Pi/24)
	assert.InDelta(t, step, dist(late, midnight), 1e-12)
	assert.InDelta(t, step, dist(midnight, one), 1e-12)
	assert.InDelta(t, math.Sin(2*math.Pi*23/24), value(t, late, "hour_sin"), 1e-12)
}

func TestAssembleRollingDayNeedsFullWindow(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	table, err := a.Assemble(testFrame(48, oneLocation), t0, t0.Add(48*time.Hour))
	require.NoError(t, err)

	row := table.Rows[23]
	for _, c := range []string{"price_rolling_mean_24h", "price_rolling_std_24h"} {
		assert.True(t, math.IsNaN(value(t, row, c)), c)
		assert.Equal(t, 1.0, value(t, row, c+"_missing"), c)
	}

	full := table.Rows[24]
	assert.InDelta(t, 11.5, value(t, full, "price_rolling_mean_24h"), 1e-9)
	assert.InDelta(t, math.Sqrt(50), value(t, full, "price_rolling_std_24h"), 1e-9)
	assert.Equal(t, 0.0, value(t, full, "price_rolling_std_24h_missing"))
}

func TestAssembleUsesTargetHistoryAcrossDroppedHours(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(200, oneLocation)
	price := frame.Lookup(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldPrice})
	frame.TargetHistory = append([]models.CleanedPoint(nil), price.Points...)

	// hours 20-26 were excluded from every series
	keep := func(i int) bool { return i < 20 || i > 26 }
	var index []time.Time
	for i, ts := range frame.Index {
		if keep(i) {
			index = append(index, ts)
		}
	}
	frame.Index = index
	for _, s := range frame.Series {
		var pts []models.CleanedPoint
		for i, p := range s.Points {
			if keep(i) {
				pts = append(pts, p)
			}
		}
		s.Points = pts
	}

	ts := t0.Add(190 * time.Hour)
	table, err := a.Assemble(frame, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	row := table.Rows[0]
	assert.Equal(t, 22.0, value(t, row, "price_lag_168h"))
	assert.Equal(t, 0.0, value(t, row, "price_lag_168h_missing"))
	assert.Equal(t, 0.0, value(t, row, "price_rolling_mean_168h_missing"))

	frame.TargetHistory = nil
	table, err = a.Assemble(frame, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.0, value(t, table.Rows[0], "price_lag_168h_missing"))
}

func TestAssembleCalendarUsesLocalTime(t *testing.T) {
	a := newTestAssembler(t, oneLocation, "12-25")
	frame := testFrame(24, oneLocation)
	start := time.Date(2024, 12, 24, 23, 0, 0, 0, time.UTC)
	for _, s := range frame.Series {
		for i := range s.Points {
			s.Points[i].Timestamp = start.Add(time.Duration(i) * time.Hour)
			s.Points[i].AvailableAt = s.Points[i].Timestamp.Add(-12 * time.Hour)
		}
	}
	for i := range frame.Index {
		frame.Index[i] = start.Add(time.Duration(i) * time.Hour)
	}

	table, err := a.Assemble(frame, start, start.Add(24*time.Hour))
	require.NoError(t, err)

	// 23:00 UTC is midnight of Christmas Day in Stockholm
	row := table.Rows[0]
	assert.Equal(t, 0.0, value(t, row, "hour"))
	assert.Equal(t, 2.0, value(t, row, "day_of_week"))
	assert.Equal(t, 12.0, value(t, row, "month"))
	assert.Equal(t, 1.0, value(t, row, "is_holiday"))
	assert.Equal(t, 0.0, value(t, row, "is_weekend"))
	assert.InDelta(t, 0, value(t, row, "hour_sin"), 1e-12)
	assert.InDelta(t, 1, value(t, row, "hour_cos"), 1e-12)

	morning := table.Rows[8]
	assert.Equal(t, 8.0, value(t, morning, "hour"))
	assert.Equal(t, 1.0, value(t, morning, "is_peak_morning"))
	assert.Equal(t, 0.0, value(t, morning, "is_peak_evening"))
}

func TestAssembleRestrictsOutputRange(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(48, oneLocation)

	table, err := a.Assemble(frame, t0.Add(24*time.Hour), t0.Add(30*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 6, table.Len())
	assert.Equal(t, t0.Add(24*time.Hour), table.Rows[0].Timestamp)
	// earlier frame hours still feed lags
	assert.Equal(t, 0.0, value(t, table.Rows[0], "price_lag_24h"))
}

func TestAssembleKeepsRowsWithUnpublishedTarget(t *testing.T) {
	a := newTestAssembler(t, oneLocation)
	frame := testFrame(48, oneLocation)
	price := frame.Lookup(models.SeriesKey{Source: models.SourceMarket, Field: models.FieldPrice})
	for i := 24; i < 48; i++ {
		price.Points[i].Value = math.NaN()
	}

	table, err := a.Assemble(frame, t0, t0.Add(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 48, table.Len())
	assert.False(t, table.Rows[30].HasTarget())
	assert.True(t, table.Rows[23].HasTarget())
}

func TestNewAssemblerValidatesWeights(t *testing.T) {
	_, err := NewAssembler([]config.Location{{Name: "a", Weight: 0.5}}, nil, time.UTC)
	assert.Error(t, err)
	_, err = NewAssembler(nil, nil, time.UTC)
	assert.Error(t, err)
}

func TestComputeWindowStats(t *testing.T) {
	st := computeWindowStats([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, st.mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), st.std, 1e-12)
	assert.Equal(t, 1.0, st.min)
	assert.Equal(t, 4.0, st.max)
}
