package models

import (
	"fmt"
	"time"
)

type Source string

const (
	SourceMarket  Source = "market"
	SourceWeather Source = "weather"
)

// Kind separates values that were forecast ahead of time from realized measurements.
type Kind string

const (
	KindForecast Kind = "forecast"
	KindActual   Kind = "actual"
)

// Raw field names produced by the upstream clients.
const (
	FieldPrice         = "price"
	FieldLoadForecast  = "load_forecast"
	FieldWindForecast  = "wind_forecast"
	FieldSolarForecast = "solar_forecast"
	FieldTemperature   = "temperature"
	FieldWindSpeed10m  = "wind_speed_10m"
	FieldWindSpeed80m  = "wind_speed_80m"
	FieldIrradiance    = "irradiance"
)

// MarketFields are the ENTSO-E series the pipeline needs.
var MarketFields = []string{FieldPrice, FieldLoadForecast, FieldWindForecast, FieldSolarForecast}

// WeatherFields are the Open-Meteo variables aggregated per location.
var WeatherFields = []string{FieldTemperature, FieldWindSpeed10m, FieldWindSpeed80m, FieldIrradiance}

// RawObservation is one upstream value for one timestamp. It is never mutated
// after the client returns it.
type RawObservation struct {
	Timestamp   time.Time
	Source      Source
	Field       string
	Location    string // weather only
	Value       float64
	Kind        Kind
	AvailableAt time.Time // earliest moment the value could have been known
	FetchedAt   time.Time
}

func (o RawObservation) Key() SeriesKey {
	return SeriesKey{Source: o.Source, Field: o.Field, Location: o.Location}
}

// SeriesKey identifies one raw series.
type SeriesKey struct {
	Source   Source
	Field    string
	Location string
}

func (k SeriesKey) String() string {
	if k.Location == "" {
		return fmt.Sprintf("%s/%s", k.Source, k.Field)
	}
	return fmt.Sprintf("%s/%s@%s", k.Source, k.Field, k.Location)
}
