package entsoe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/service/upstream"
	"SE3Price/pkg/config"
	xhttp "SE3Price/pkg/http"
	applogger "SE3Price/pkg/logger"
	xutil "SE3Price/pkg/util"
)

// Production types summed into the generation forecasts.
var (
	solarTypes = map[string]bool{"B16": true}
	windTypes  = map[string]bool{"B18": true, "B19": true}
)

// Client queries the ENTSO-E Transparency Platform for one bidding zone.
type Client struct {
	base       *upstream.Client
	baseURL    string
	apiKey     string
	zone       string
	loc        *time.Location
	cutoffHour int
	pubLag     time.Duration
	chunkDays  int
	now        func() time.Time
	l          *applogger.Logger
}

func NewClient(cfg *config.Config, base *upstream.Client, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		base:       base,
		baseURL:    cfg.Entsoe.BaseURL,
		apiKey:     cfg.Entsoe.APIKey,
		zone:       cfg.Region.BiddingZone,
		loc:        cfg.Location(),
		cutoffHour: cfg.Region.AuctionCutoffHour,
		pubLag:     cfg.Region.PublicationLag,
		chunkDays:  cfg.Entsoe.ChunkDays,
		now:        time.Now,
		l:          l,
	}
}

// FetchPrices returns day-ahead prices (A44). A price for delivery day D is
// realized at the auction and becomes public one publication lag after the
// D-1 gate closure.
func (c *Client) FetchPrices(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	samples, err := c.query(ctx, "prices", from, to, url.Values{
		"documentType": {"A44"},
		"in_Domain":    {c.zone},
		"out_Domain":   {c.zone},
	})
	if err != nil {
		return nil, err
	}
	return c.observations(dedupe(samples), models.FieldPrice, models.KindActual, c.pubLag), nil
}

// FetchLoadForecast returns the day-ahead total load forecast (A65).
func (c *Client) FetchLoadForecast(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	samples, err := c.query(ctx, "load_forecast", from, to, url.Values{
		"documentType":          {"A65"},
		"processType":           {"A01"},
		"outBiddingZone_Domain": {c.zone},
	})
	if err != nil {
		return nil, err
	}
	return c.observations(dedupe(samples), models.FieldLoadForecast, models.KindForecast, 0), nil
}

// FetchGenerationForecast returns day-ahead wind (onshore plus offshore) and
// solar forecasts (A69), summed per hour across production types.
func (c *Client) FetchGenerationForecast(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	samples, err := c.query(ctx, "generation_forecast", from, to, url.Values{
		"documentType": {"A69"},
		"processType":  {"A01"},
		"in_Domain":    {c.zone},
	})
	if err != nil {
		return nil, err
	}
	wind := sumHourly(samples, windTypes)
	solar := sumHourly(samples, solarTypes)
	out := c.observations(wind, models.FieldWindForecast, models.KindForecast, 0)
	return append(out, c.observations(solar, models.FieldSolarForecast, models.KindForecast, 0)...), nil
}

func (c *Client) query(ctx context.Context, op string, from, to time.Time, params url.Values) ([]sample, error) {
	if c.apiKey == "" {
		return nil, errors.New("entsoe: api key not configured")
	}
	var out []sample
	for _, r := range xutil.SplitDays(from.UTC(), to.UTC(), c.chunkDays) {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("securityToken", c.apiKey)
		q.Set("periodStart", formatPeriod(r.From))
		q.Set("periodEnd", formatPeriod(r.To))

		body, err := c.base.Get(ctx, op, c.baseURL, q)
		if err != nil {
			// "no matching data" can also come back as a 400 acknowledgement
			var se *xhttp.StatusError
			if errors.As(err, &se) && se.Code == http.StatusBadRequest {
				body = []byte(se.Body)
			} else {
				return nil, err
			}
		}
		s, err := parseDocument(body)
		if err != nil {
			return nil, fmt.Errorf("entsoe %s %s..%s: %w", op, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339), err)
		}
		for _, x := range s {
			if !x.ts.Before(r.From) && x.ts.Before(r.To) {
				out = append(out, x)
			}
		}
	}
	c.l.Info("entsoe fetch done",
		applogger.String("op", op),
		applogger.Int("points", len(out)),
		applogger.Time("from", from),
		applogger.Time("to", to),
	)
	return out, nil
}

func (c *Client) observations(samples []sample, field string, kind models.Kind, lag time.Duration) []models.RawObservation {
	fetched := c.now().UTC()
	out := make([]models.RawObservation, 0, len(samples))
	for _, s := range samples {
		out = append(out, models.RawObservation{
			Timestamp:   s.ts.UTC(),
			Source:      models.SourceMarket,
			Field:       field,
			Value:       s.value,
			Kind:        kind,
			AvailableAt: xutil.DayAheadCutoff(s.ts, c.loc, c.cutoffHour).Add(lag),
			FetchedAt:   fetched,
		})
	}
	return out
}

// dedupe keeps the first value per timestamp, ordered by time.
func dedupe(samples []sample) []sample {
	seen := make(map[int64]bool, len(samples))
	out := make([]sample, 0, len(samples))
	for _, s := range samples {
		k := s.ts.Unix()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts.Before(out[j].ts) })
	return out
}

// sumHourly averages each production type within the hour, then adds the
// types together.
func sumHourly(samples []sample, types map[string]bool) []sample {
	type acc struct {
		sum float64
		n   int
	}
	perType := make(map[string]map[int64]*acc)
	for _, s := range samples {
		if !types[s.psrType] {
			continue
		}
		h := s.ts.UTC().Truncate(time.Hour).Unix()
		m := perType[s.psrType]
		if m == nil {
			m = make(map[int64]*acc)
			perType[s.psrType] = m
		}
		a := m[h]
		if a == nil {
			a = &acc{}
			m[h] = a
		}
		a.sum += s.value
		a.n++
	}

	total := make(map[int64]float64)
	for _, m := range perType {
		for h, a := range m {
			total[h] += a.sum / float64(a.n)
		}
	}
	out := make([]sample, 0, len(total))
	for h, v := range total {
		out = append(out, sample{ts: time.Unix(h, 0).UTC(), value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts.Before(out[j].ts) })
	return out
}
