package features

import (
	"fmt"
	"math"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/domain/repository"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
)

var (
	lagHours     = []int{1, 24, 168}
	windowHours  = []int{24, 168}
	windowStatsN = []string{"mean", "std", "min", "max"}
)

// Columns returns the feature column order shared by every table.
func Columns() []string {
	cols := []string{
		"hour", "day_of_week", "month", "day_of_year", "week_of_year",
		"is_weekend", "is_holiday", "is_peak_morning", "is_peak_evening",
		"hour_sin", "hour_cos", "month_sin", "month_cos",
		"load_forecast", "wind_forecast", "solar_forecast",
		"residual_load", "renewable_ratio", "renewable_surplus", "load_stress",
		"temperature_avg", "wind_speed_10m_avg", "wind_speed_80m_avg", "irradiance_avg",
	}
	cols = append(cols, historyColumns()...)
	cols = append(cols, "temp_load_interaction", "hour_load_interaction", "wind_efficiency")
	for _, c := range historyColumns() {
		cols = append(cols, c+"_missing")
	}
	return cols
}

// historyColumns are the price-derived columns that can be missing.
func historyColumns() []string {
	var cols []string
	for _, k := range lagHours {
		cols = append(cols, fmt.Sprintf("price_lag_%dh", k))
	}
	for _, w := range windowHours {
		for _, s := range windowStatsN {
			cols = append(cols, fmt.Sprintf("price_rolling_%s_%dh", s, w))
		}
	}
	return append(cols, "price_diff_1h", "price_diff_24h")
}

// RequiredColumns are the columns that must be present for a row to be scored.
// Only price history may be missing.
func RequiredColumns() []string {
	history := make(map[string]bool)
	for _, c := range historyColumns() {
		history[c] = true
	}
	var out []string
	for _, c := range Columns() {
		if !history[c] {
			out = append(out, c)
		}
	}
	return out
}

// Assembler builds point-in-time correct feature rows from a cleaned frame.
type Assembler struct {
	locations []config.Location
	holidays  repository.HolidayCalendar
	loc       *time.Location
	version   int
	l         *applogger.Logger
}

type Option func(*Assembler)

func WithLogger(l *applogger.Logger) Option {
	return func(a *Assembler) { a.l = l }
}

func WithVersion(v int) Option {
	return func(a *Assembler) { a.version = v }
}

// NewAssembler validates the weather weights up front.
func NewAssembler(locations []config.Location, holidays repository.HolidayCalendar, loc *time.Location, opts ...Option) (*Assembler, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("assembler: at least one weather location is required")
	}
	var sum float64
	for _, l := range locations {
		if l.Weight <= 0 {
			return nil, fmt.Errorf("assembler: location %s has non-positive weight", l.Name)
		}
		sum += l.Weight
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("assembler: location weights sum to %.6f, want 1", sum)
	}
	if loc == nil {
		loc = time.UTC
	}
	a := &Assembler{locations: locations, holidays: holidays, loc: loc, version: 1, l: applogger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assemble emits one row per kept hour of frame within [from, to). Hours of
// the frame before from are used as price history only. Nothing is returned
// when any row fails the integrity checks.
func (a *Assembler) Assemble(frame *models.CleanedFrame, from, to time.Time) (*models.FeatureTable, error) {
	if frame == nil || len(frame.Index) == 0 {
		return nil, &models.FeatureIntegrityError{Timestamp: from, Reason: "empty cleaned frame"}
	}
	pos, err := indexPositions(frame.Index)
	if err != nil {
		return nil, err
	}

	market := make(map[string]*models.CleanedSeries, len(models.MarketFields))
	for _, f := range models.MarketFields {
		s, err := a.series(frame, models.SeriesKey{Source: models.SourceMarket, Field: f}, f == models.FieldPrice)
		if err != nil {
			return nil, err
		}
		market[f] = s
	}
	weather := make(map[string][]*models.CleanedSeries, len(models.WeatherFields))
	for _, f := range models.WeatherFields {
		for _, l := range a.locations {
			s, err := a.series(frame, models.SeriesKey{Source: models.SourceWeather, Field: f, Location: l.Name}, false)
			if err != nil {
				return nil, err
			}
			weather[f] = append(weather[f], s)
		}
	}

	pts := frame.TargetHistory
	if pts == nil {
		pts = market[models.FieldPrice].Points
	}
	history := make(priceHistory, len(pts))
	for _, p := range pts {
		history[hourKey(p.Timestamp)] = pricePoint{value: p.Value, availableAt: p.AvailableAt}
	}

	cols := Columns()
	table := &models.FeatureTable{Version: a.version, Columns: cols}
	from, to = from.UTC(), to.UTC()
	for _, ts := range frame.Index {
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		i := pos[ts.Unix()]
		row, err := a.buildRow(ts, i, market, weather, history)
		if err != nil {
			return nil, err
		}
		if len(row.Features) != len(cols) {
			return nil, &models.FeatureIntegrityError{Timestamp: ts, Reason: "column count mismatch"}
		}
		if err := audit(row); err != nil {
			return nil, err
		}
		table.Rows = append(table.Rows, row)
	}

	a.l.Info("features assembled",
		applogger.Int("rows", len(table.Rows)),
		applogger.Int("columns", len(cols)),
		applogger.Time("from", from),
		applogger.Time("to", to),
	)
	return table, nil
}

// series fetches a required series and checks it is aligned with the frame index.
func (a *Assembler) series(frame *models.CleanedFrame, key models.SeriesKey, target bool) (*models.CleanedSeries, error) {
	s := frame.Lookup(key)
	if s == nil {
		return nil, &models.FeatureIntegrityError{Timestamp: frame.Index[0], Feature: key.String(), Reason: "required series missing"}
	}
	if !target && s.Kind == models.KindActual {
		return nil, &models.FeatureIntegrityError{
			Timestamp: frame.Index[0],
			Feature:   key.String(),
			Reason:    "realized values cannot be used as features; use forecasts",
		}
	}
	if len(s.Points) != len(frame.Index) {
		return nil, &models.FeatureIntegrityError{
			Timestamp: frame.Index[0],
			Feature:   key.String(),
			Reason:    fmt.Sprintf("series has %d hours, frame has %d", len(s.Points), len(frame.Index)),
		}
	}
	for i, p := range s.Points {
		if !p.Timestamp.Equal(frame.Index[i]) {
			return nil, &models.FeatureIntegrityError{Timestamp: frame.Index[i], Feature: key.String(), Reason: "timestamps do not align one-to-one"}
		}
		if !target && p.Missing() {
			return nil, &models.FeatureIntegrityError{Timestamp: p.Timestamp, Feature: key.String(), Reason: "missing value in cleaned series"}
		}
	}
	return s, nil
}

func indexPositions(index []time.Time) (map[int64]int, error) {
	pos := make(map[int64]int, len(index))
	for i, ts := range index {
		if ts.Truncate(time.Hour) != ts {
			return nil, &models.FeatureIntegrityError{Timestamp: ts, Reason: "timestamp is not hour aligned"}
		}
		if _, dup := pos[ts.Unix()]; dup {
			return nil, &models.FeatureIntegrityError{Timestamp: ts, Reason: "duplicate hour"}
		}
		if i > 0 && !ts.After(index[i-1]) {
			return nil, &models.FeatureIntegrityError{Timestamp: ts, Reason: "index not strictly increasing"}
		}
		pos[ts.Unix()] = i
	}
	return pos, nil
}

type rowBuilder struct {
	features []models.Feature
}

func (b *rowBuilder) add(name string, v float64, availableAt time.Time) {
	b.features = append(b.features, models.Feature{Name: name, Value: v, AvailableAt: availableAt})
}

func (b *rowBuilder) flag(name string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	b.add(name, v, time.Time{})
}

func (a *Assembler) buildRow(
	ts time.Time,
	i int,
	market map[string]*models.CleanedSeries,
	weather map[string][]*models.CleanedSeries,
	history priceHistory,
) (models.FeatureRow, error) {
	var b rowBuilder
	local := ts.In(a.loc)

	// calendar
	hour := float64(local.Hour())
	dow := (int(local.Weekday()) + 6) % 7
	_, week := local.ISOWeek()
	b.add("hour", hour, time.Time{})
	b.add("day_of_week", float64(dow), time.Time{})
	b.add("month", float64(local.Month()), time.Time{})
	b.add("day_of_year", float64(local.YearDay()), time.Time{})
	b.add("week_of_year", float64(week), time.Time{})
	b.flag("is_weekend", dow >= 5)
	b.flag("is_holiday", a.holidays != nil && a.holidays.IsHoliday(ts))
	b.flag("is_peak_morning", local.Hour() >= 7 && local.Hour() <= 9)
	b.flag("is_peak_evening", local.Hour() >= 17 && local.Hour() <= 20)
	hs, hc := cyclical(hour, 24)
	ms, mc := cyclical(float64(local.Month()), 12)
	b.add("hour_sin", hs, time.Time{})
	b.add("hour_cos", hc, time.Time{})
	b.add("month_sin", ms, time.Time{})
	b.add("month_cos", mc, time.Time{})

	// market forecasts
	load := market[models.FieldLoadForecast].Points[i]
	wind := market[models.FieldWindForecast].Points[i]
	solar := market[models.FieldSolarForecast].Points[i]
	marketAvail := latest(load.AvailableAt, wind.AvailableAt, solar.AvailableAt)
	residual := load.Value - (wind.Value + solar.Value)
	ratio, stress := 0.0, 0.0
	if load.Value > 0 {
		ratio = math.Min(1, math.Max(0, (wind.Value+solar.Value)/load.Value))
		stress = residual / load.Value
	}
	b.add("load_forecast", load.Value, load.AvailableAt)
	b.add("wind_forecast", wind.Value, wind.AvailableAt)
	b.add("solar_forecast", solar.Value, solar.AvailableAt)
	b.add("residual_load", residual, marketAvail)
	b.add("renewable_ratio", ratio, marketAvail)
	b.add("renewable_surplus", math.Max(0, -residual), marketAvail)
	b.add("load_stress", stress, latest(load.AvailableAt, marketAvail))

	// weather, fixed-weight average across locations
	agg := make(map[string]models.Feature, len(models.WeatherFields))
	for _, f := range models.WeatherFields {
		var v float64
		var avail time.Time
		for j, s := range weather[f] {
			p := s.Points[i]
			v += a.locations[j].Weight * p.Value
			avail = latest(avail, p.AvailableAt)
		}
		name := f + "_avg"
		agg[f] = models.Feature{Name: name, Value: v, AvailableAt: avail}
		b.add(name, v, avail)
	}

	// price history
	missing := make(map[string]bool)
	for _, k := range lagHours {
		name := fmt.Sprintf("price_lag_%dh", k)
		if p, ok := history.at(ts, k); ok {
			b.add(name, p.value, p.availableAt)
		} else {
			b.add(name, math.NaN(), time.Time{})
			missing[name] = true
		}
	}
	for _, w := range windowHours {
		vals, avail, ok := history.window(ts, w)
		var st windowStats
		if ok {
			st = computeWindowStats(vals)
		}
		for _, s := range windowStatsN {
			name := fmt.Sprintf("price_rolling_%s_%dh", s, w)
			if !ok {
				b.add(name, math.NaN(), time.Time{})
				missing[name] = true
				continue
			}
			var v float64
			switch s {
			case "mean":
				v = st.mean
			case "std":
				v = st.std
			case "min":
				v = st.min
			case "max":
				v = st.max
			}
			b.add(name, v, avail)
		}
	}
	for _, d := range []struct {
		name string
		k    int
	}{{"price_diff_1h", 2}, {"price_diff_24h", 25}} {
		p1, ok1 := history.at(ts, 1)
		pk, ok2 := history.at(ts, d.k)
		if ok1 && ok2 {
			b.add(d.name, p1.value-pk.value, latest(p1.availableAt, pk.availableAt))
		} else {
			b.add(d.name, math.NaN(), time.Time{})
			missing[d.name] = true
		}
	}

	// interactions
	temp := agg[models.FieldTemperature]
	speed := agg[models.FieldWindSpeed80m]
	b.add("temp_load_interaction", temp.Value*load.Value, latest(temp.AvailableAt, load.AvailableAt))
	b.add("hour_load_interaction", hour*load.Value, load.AvailableAt)
	eff := 0.0
	if speed.Value > 0 {
		eff = wind.Value / math.Pow(speed.Value, 3)
	}
	b.add("wind_efficiency", eff, latest(speed.AvailableAt, wind.AvailableAt))

	for _, c := range historyColumns() {
		b.flag(c+"_missing", missing[c])
	}

	target := market[models.FieldPrice].Points[i].Value
	return models.FeatureRow{Timestamp: ts, Features: b.features, Target: target}, nil
}

// audit rejects a row holding any feature that was not known strictly before
// the row's own timestamp.
func audit(row models.FeatureRow) error {
	for _, f := range row.Features {
		if f.AvailableAt.IsZero() {
			continue
		}
		if !f.AvailableAt.Before(row.Timestamp) {
			return &models.FeatureIntegrityError{
				Timestamp: row.Timestamp,
				Feature:   f.Name,
				Reason:    fmt.Sprintf("value available at %s, not before the row", f.AvailableAt.UTC().Format(time.RFC3339)),
			}
		}
	}
	return nil
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}
