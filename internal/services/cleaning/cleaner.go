package cleaning

import (
	"fmt"
	"math"
	"sort"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
	xutil "SE3Price/pkg/util"

	"gonum.org/v1/gonum/stat"
)

// Policy holds the gap and range rules applied to every series.
type Policy struct {
	MaxInterpolateHours int
	MaxForwardFillHours int
	MaxGapHours         int
	MaxExcludedFraction float64
	Bounds              map[string]config.FieldBound
	// TargetField hours not yet published at the run's as-of time stay
	// missing instead of excluding rows.
	TargetField string
	// Published returns when the target value for hour ts becomes public.
	// Nil means no target hour is ever treated as unpublished.
	Published func(ts time.Time) time.Time
}

// PolicyFromConfig maps the cleaning section of the config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxInterpolateHours: cfg.Cleaning.MaxInterpolateHours,
		MaxForwardFillHours: cfg.Cleaning.MaxForwardFillHours,
		MaxGapHours:         cfg.Cleaning.MaxGapHours,
		MaxExcludedFraction: cfg.Cleaning.MaxExcludedFraction,
		Bounds:              cfg.Cleaning.Bounds,
		TargetField:         models.FieldPrice,
		Published:           AuctionPublication(cfg.Location(), cfg.Region.AuctionCutoffHour, cfg.Region.PublicationLag),
	}
}

// AuctionPublication returns a Published func for a day-ahead auction whose
// results for a delivery day appear lag after the previous day's gate closure.
func AuctionPublication(loc *time.Location, cutoffHour int, lag time.Duration) func(time.Time) time.Time {
	return func(ts time.Time) time.Time {
		return xutil.DayAheadCutoff(ts, loc, cutoffHour).Add(lag)
	}
}

// Window is one cleaning request. Hours in [From, Start) are lead-in: they are
// repaired and kept as history but do not count toward the quality gate. A
// zero Start means From. Target hours published after AsOf are the only ones
// allowed to stay missing; a zero AsOf allows none.
type Window struct {
	From  time.Time
	Start time.Time
	To    time.Time
	AsOf  time.Time
}

// Cleaner turns raw observations into aligned hourly series.
type Cleaner struct {
	policy Policy
	loc    *time.Location
	l      *applogger.Logger
}

type Option func(*Cleaner)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Cleaner) { c.l = l }
}

// WithLocation sets the zone whose local hour-of-day drives mean substitution.
func WithLocation(loc *time.Location) Option {
	return func(c *Cleaner) { c.loc = loc }
}

func New(p Policy, opts ...Option) *Cleaner {
	c := &Cleaner{policy: p, loc: time.UTC, l: applogger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type series struct {
	key      models.SeriesKey
	kind     models.Kind
	vals     []float64
	avail    []time.Time
	filled   []models.FillMethod
	observed []bool
}

// Clean buckets obs to the hourly grid [from, to), repairs short gaps and drops
// hours that cannot be repaired. Every key in expected gets a series even when
// no observation arrived for it.
func (c *Cleaner) Clean(obs []models.RawObservation, from, to time.Time, expected ...models.SeriesKey) (*models.CleanedFrame, error) {
	return c.CleanWindow(obs, Window{From: from, To: to}, expected...)
}

// CleanWindow is Clean with a lead-in and an as-of time, see Window.
func (c *Cleaner) CleanWindow(obs []models.RawObservation, w Window, expected ...models.SeriesKey) (*models.CleanedFrame, error) {
	from := w.From.UTC().Truncate(time.Hour)
	to := w.To.UTC().Truncate(time.Hour)
	n := int(to.Sub(from) / time.Hour)
	if n <= 0 {
		return nil, fmt.Errorf("clean: empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	gate := 0
	if !w.Start.IsZero() {
		gate = int(xutil.HourFloor(w.Start.UTC()).Sub(from) / time.Hour)
		if gate < 0 || gate >= n {
			return nil, fmt.Errorf("clean: start %s outside %s..%s", w.Start.Format(time.RFC3339), from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
	}

	report := models.CleaningReport{RequestedHours: n - gate, Filled: make(map[models.FillMethod]int)}
	byKey := c.bucket(obs, from, n, &report)
	for _, k := range expected {
		if _, ok := byKey[k]; !ok {
			byKey[k] = newSeries(k, n)
		}
	}

	tail := c.unpublishedFrom(from, n, w.AsOf)
	excluded := make([]bool, n)
	for _, s := range sortedSeries(byKey) {
		limit := n
		if s.key.Field == c.policy.TargetField {
			limit = tail
		}
		c.repair(s, from, limit, excluded)
	}

	// A series still missing outside the unpublished target tail cannot be used.
	for _, s := range byKey {
		for i, v := range s.vals {
			if math.IsNaN(v) && !(s.key.Field == c.policy.TargetField && i >= tail) {
				excluded[i] = true
			}
		}
	}

	frame := &models.CleanedFrame{Series: make(map[models.SeriesKey]*models.CleanedSeries, len(byKey))}
	leadIn := 0
	for i := 0; i < n; i++ {
		if excluded[i] {
			if i < gate {
				leadIn++
			} else {
				report.ExcludedHours++
			}
			continue
		}
		frame.Index = append(frame.Index, from.Add(time.Duration(i)*time.Hour))
	}
	for k, s := range byKey {
		cs := &models.CleanedSeries{Key: k, Kind: s.kind, Points: make([]models.CleanedPoint, 0, len(frame.Index))}
		for i := 0; i < n; i++ {
			pt := models.CleanedPoint{
				Timestamp:   from.Add(time.Duration(i) * time.Hour),
				Value:       s.vals[i],
				Filled:      s.filled[i],
				AvailableAt: s.avail[i],
			}
			if k.Field == c.policy.TargetField && !pt.Missing() {
				frame.TargetHistory = append(frame.TargetHistory, pt)
			}
			if excluded[i] {
				continue
			}
			cs.Points = append(cs.Points, pt)
			if s.filled[i] != models.FillNone {
				report.Filled[s.filled[i]]++
			}
		}
		frame.Series[k] = cs
	}
	frame.Report = report

	c.l.Info("cleaning done",
		applogger.Int("requested_hours", report.RequestedHours),
		applogger.Int("excluded_hours", report.ExcludedHours),
		applogger.Int("lead_in_excluded", leadIn),
		applogger.Int("unpublished_target_hours", n-tail),
		applogger.Int("interpolated", report.Filled[models.FillInterpolate]),
		applogger.Int("forward_filled", report.Filled[models.FillForward]),
		applogger.Int("hour_mean", report.Filled[models.FillHourMean]),
		applogger.Int("dropped", report.Dropped),
		applogger.Int("clamped", report.Clamped),
	)

	if report.ExcludedFraction() > c.policy.MaxExcludedFraction {
		return nil, &models.DataQualityError{
			RequestedHours: report.RequestedHours,
			ExcludedHours:  report.ExcludedHours,
			MaxFraction:    c.policy.MaxExcludedFraction,
		}
	}
	return frame, nil
}

// unpublishedFrom is the first grid index whose target value is not public at
// asOf, or n when every hour is.
func (c *Cleaner) unpublishedFrom(from time.Time, n int, asOf time.Time) int {
	if asOf.IsZero() || c.policy.Published == nil {
		return n
	}
	for i := 0; i < n; i++ {
		if c.policy.Published(from.Add(time.Duration(i) * time.Hour)).After(asOf) {
			return i
		}
	}
	return n
}

func newSeries(k models.SeriesKey, n int) *series {
	s := &series{
		key:      k,
		kind:     models.KindForecast,
		vals:     make([]float64, n),
		avail:    make([]time.Time, n),
		filled:   make([]models.FillMethod, n),
		observed: make([]bool, n),
	}
	for i := range s.vals {
		s.vals[i] = math.NaN()
	}
	return s
}

// bucket averages observations per hour after applying field bounds.
func (c *Cleaner) bucket(obs []models.RawObservation, from time.Time, n int, report *models.CleaningReport) map[models.SeriesKey]*series {
	type acc struct {
		sum   float64
		count int
		avail time.Time
	}
	sums := make(map[models.SeriesKey][]acc)
	kinds := make(map[models.SeriesKey]models.Kind)
	for _, o := range obs {
		i := int(o.Timestamp.UTC().Truncate(time.Hour).Sub(from) / time.Hour)
		if o.Timestamp.Before(from) || i < 0 || i >= n {
			continue
		}
		v, ok := c.applyBounds(o.Field, o.Value, report)
		if !ok {
			continue
		}
		k := o.Key()
		if o.Kind == models.KindActual || kinds[k] == "" {
			kinds[k] = o.Kind
		}
		a, exists := sums[k]
		if !exists {
			a = make([]acc, n)
			sums[k] = a
		}
		a[i].sum += v
		a[i].count++
		if o.AvailableAt.After(a[i].avail) {
			a[i].avail = o.AvailableAt
		}
	}

	out := make(map[models.SeriesKey]*series, len(sums))
	for k, a := range sums {
		s := newSeries(k, n)
		if kinds[k] != "" {
			s.kind = kinds[k]
		}
		for i := range a {
			if a[i].count == 0 {
				continue
			}
			s.vals[i] = a[i].sum / float64(a[i].count)
			s.avail[i] = a[i].avail
			s.observed[i] = true
		}
		out[k] = s
	}
	return out
}

func (c *Cleaner) applyBounds(field string, v float64, report *models.CleaningReport) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		report.Dropped++
		return 0, false
	}
	b, ok := c.policy.Bounds[field]
	if !ok {
		return v, true
	}
	below := b.Min != nil && v < *b.Min
	above := b.Max != nil && v > *b.Max
	if !below && !above {
		return v, true
	}
	// The target is never clamped, whatever the config says.
	if b.Action == "clamp" && field != c.policy.TargetField {
		report.Clamped++
		if below {
			return *b.Min, true
		}
		return *b.Max, true
	}
	report.Dropped++
	return 0, false
}

// repair applies the gap rules to one series, in order of precedence:
// interpolate short interior gaps, forward-fill a short trailing gap, fill the
// remaining short gaps with the trailing hour-of-day mean, exclude the rest.
// Hours from limit on are left untouched.
func (c *Cleaner) repair(s *series, from time.Time, limit int, excluded []bool) {
	n := limit
	for start := 0; start < n; {
		if !math.IsNaN(s.vals[start]) {
			start++
			continue
		}
		end := start
		for end+1 < n && math.IsNaN(s.vals[end+1]) {
			end++
		}
		length := end - start + 1
		hasPrev := start > 0
		hasNext := end < n-1

		switch {
		case length > c.policy.MaxGapHours:
			for i := start; i <= end; i++ {
				excluded[i] = true
			}
		case hasPrev && hasNext && length <= c.policy.MaxInterpolateHours:
			a, b := s.vals[start-1], s.vals[end+1]
			avail := latest(s.avail[start-1], s.avail[end+1])
			for i := start; i <= end; i++ {
				frac := float64(i-start+1) / float64(length+1)
				s.vals[i] = a + (b-a)*frac
				s.avail[i] = avail
				s.filled[i] = models.FillInterpolate
			}
		case hasPrev && !hasNext && length <= c.policy.MaxForwardFillHours:
			for i := start; i <= end; i++ {
				s.vals[i] = s.vals[start-1]
				s.avail[i] = s.avail[start-1]
				s.filled[i] = models.FillForward
			}
		default:
			for i := start; i <= end; i++ {
				if !c.fillHourMean(s, from, i) {
					excluded[i] = true
				}
			}
		}
		start = end + 1
	}
}

// fillHourMean substitutes the mean of earlier observed values at the same
// local hour of day. Only strictly earlier hours are used.
func (c *Cleaner) fillHourMean(s *series, from time.Time, i int) bool {
	hour := from.Add(time.Duration(i) * time.Hour).In(c.loc).Hour()
	var vals []float64
	var avail time.Time
	for j := i - 1; j >= 0; j-- {
		if !s.observed[j] {
			continue
		}
		if from.Add(time.Duration(j)*time.Hour).In(c.loc).Hour() != hour {
			continue
		}
		vals = append(vals, s.vals[j])
		avail = latest(avail, s.avail[j])
	}
	if len(vals) == 0 {
		return false
	}
	s.vals[i] = stat.Mean(vals, nil)
	s.avail[i] = avail
	s.filled[i] = models.FillHourMean
	return true
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func sortedSeries(m map[models.SeriesKey]*series) []*series {
	out := make([]*series, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.String() < out[j].key.String() })
	return out
}
