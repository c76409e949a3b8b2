package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/service/upstream"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
	xutil "SE3Price/pkg/util"
)

const hourLayout = "2006-01-02T15:04"

// Open-Meteo hourly variable -> raw field name.
var variables = []struct {
	param string
	field string
}{
	{"temperature_2m", models.FieldTemperature},
	{"wind_speed_10m", models.FieldWindSpeed10m},
	{"wind_speed_80m", models.FieldWindSpeed80m},
	{"direct_normal_irradiance", models.FieldIrradiance},
}

type response struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

// Client fetches hourly weather forecasts per configured location. Past hours
// come from archived forecast runs, never from realized weather.
type Client struct {
	base          *upstream.Client
	forecastURL   string
	historicalURL string
	locations     []config.Location
	loc           *time.Location
	cutoffHour    int
	now           func() time.Time
	l             *applogger.Logger
}

func NewClient(cfg *config.Config, base *upstream.Client, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		base:          base,
		forecastURL:   cfg.Weather.ForecastURL,
		historicalURL: cfg.Weather.HistoricalForecastURL,
		locations:     cfg.Region.Locations,
		loc:           cfg.Location(),
		cutoffHour:    cfg.Region.AuctionCutoffHour,
		now:           time.Now,
		l:             l,
	}
}

// Fetch returns weather for every location over [from, to) as it was known at
// asOf. Hours starting at or before asOf are read from the historical forecast
// archive and are tagged with the day-ahead cutoff of their delivery day; later
// hours come from the live forecast issued at asOf.
func (c *Client) Fetch(ctx context.Context, from, to, asOf time.Time) ([]models.RawObservation, error) {
	from, to = from.UTC(), to.UTC()
	split := xutil.HourFloor(asOf.UTC()).Add(time.Hour)
	if split.Before(from) {
		split = from
	}
	if split.After(to) {
		split = to
	}

	var out []models.RawObservation
	for _, location := range c.locations {
		if from.Before(split) {
			obs, err := c.fetchLocation(ctx, "historical_forecast", c.historicalURL, location, xutil.Range{From: from, To: split}, func(ts time.Time) time.Time {
				return xutil.DayAheadCutoff(ts, c.loc, c.cutoffHour)
			})
			if err != nil {
				return nil, err
			}
			out = append(out, obs...)
		}
		if split.Before(to) {
			issued := asOf.UTC()
			obs, err := c.fetchLocation(ctx, "forecast", c.forecastURL, location, xutil.Range{From: split, To: to}, func(time.Time) time.Time {
				return issued
			})
			if err != nil {
				return nil, err
			}
			out = append(out, obs...)
		}
	}
	c.l.Info("weather fetch done",
		applogger.Int("locations", len(c.locations)),
		applogger.Int("points", len(out)),
		applogger.Time("from", from),
		applogger.Time("to", to),
		applogger.Time("as_of", asOf),
	)
	return out, nil
}

func (c *Client) fetchLocation(ctx context.Context, op, endpoint string, location config.Location, r xutil.Range, availableAt func(time.Time) time.Time) ([]models.RawObservation, error) {
	params := make([]string, 0, len(variables))
	for _, v := range variables {
		params = append(params, v.param)
	}
	q := url.Values{
		"latitude":        {strconv.FormatFloat(location.Lat, 'f', 4, 64)},
		"longitude":       {strconv.FormatFloat(location.Lon, 'f', 4, 64)},
		"hourly":          {strings.Join(params, ",")},
		"timezone":        {"UTC"},
		"wind_speed_unit": {"ms"},
		"start_date":      {r.From.Format(time.DateOnly)},
		"end_date":        {r.To.Add(-time.Nanosecond).Format(time.DateOnly)},
	}

	body, err := c.base.Get(ctx, op, endpoint, q)
	if err != nil {
		return nil, fmt.Errorf("weather %s: %w", location.Name, err)
	}
	obs, err := c.decode(body, location.Name, r, availableAt)
	if err != nil {
		return nil, fmt.Errorf("weather %s: %w", location.Name, err)
	}
	return obs, nil
}

func (c *Client) decode(body []byte, location string, r xutil.Range, availableAt func(time.Time) time.Time) ([]models.RawObservation, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open-meteo json: %w", err)
	}

	var times []string
	if raw, ok := resp.Hourly["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return nil, fmt.Errorf("decode hourly.time: %w", err)
		}
	}
	stamps := make([]time.Time, len(times))
	for i, s := range times {
		ts, err := time.Parse(hourLayout, s)
		if err != nil {
			return nil, fmt.Errorf("hourly.time[%d] %q: %w", i, s, err)
		}
		stamps[i] = ts
	}

	fetched := c.now().UTC()
	var out []models.RawObservation
	for _, v := range variables {
		raw, ok := resp.Hourly[v.param]
		if !ok {
			return nil, fmt.Errorf("response has no hourly %s", v.param)
		}
		var values []*float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("decode hourly.%s: %w", v.param, err)
		}
		if len(values) != len(stamps) {
			return nil, fmt.Errorf("hourly.%s has %d values for %d timestamps", v.param, len(values), len(stamps))
		}
		for i, val := range values {
			ts := stamps[i]
			// nulls stay gaps for the cleaner
			if val == nil || ts.Before(r.From) || !ts.Before(r.To) {
				continue
			}
			out = append(out, models.RawObservation{
				Timestamp:   ts,
				Source:      models.SourceWeather,
				Field:       v.field,
				Location:    location,
				Value:       *val,
				Kind:        models.KindForecast,
				AvailableAt: availableAt(ts),
				FetchedAt:   fetched,
			})
		}
	}
	return out, nil
}
