package usecase

import (
	"context"
	"fmt"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	"SE3Price/internal/services/cleaning"
	"SE3Price/internal/services/features"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
	xutil "SE3Price/pkg/util"
)

// PipelineReport summarises one fetch-clean-assemble-store pass.
type PipelineReport struct {
	From           time.Time
	To             time.Time
	Observations   int
	RequestedHours int
	ExcludedHours  int
	RowsUpserted   int
	RowsNoTarget   int
	Filled         map[models.FillMethod]int
}

// FeaturePipeline fetches raw data, keeps a copy, and turns it into feature rows.
type FeaturePipeline struct {
	market    domrepo.MarketSource
	weather   domrepo.WeatherSource
	raw       domrepo.ObservationStore
	store     domrepo.FeatureStore
	cleaner   *cleaning.Cleaner
	assembler *features.Assembler
	metrics   domrepo.Metrics
	loc       *time.Location
	history   time.Duration
	start     time.Time
	expected  []models.SeriesKey
	l         *applogger.Logger
}

func NewFeaturePipeline(
	cfg *config.Config,
	market domrepo.MarketSource,
	weather domrepo.WeatherSource,
	raw domrepo.ObservationStore,
	store domrepo.FeatureStore,
	cleaner *cleaning.Cleaner,
	assembler *features.Assembler,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *FeaturePipeline {
	if l == nil {
		l = applogger.Nop()
	}
	expected := make([]models.SeriesKey, 0, len(models.MarketFields)+len(models.WeatherFields)*len(cfg.Region.Locations))
	for _, f := range models.MarketFields {
		expected = append(expected, models.SeriesKey{Source: models.SourceMarket, Field: f})
	}
	for _, f := range models.WeatherFields {
		for _, loc := range cfg.Region.Locations {
			expected = append(expected, models.SeriesKey{Source: models.SourceWeather, Field: f, Location: loc.Name})
		}
	}
	return &FeaturePipeline{
		market:    market,
		weather:   weather,
		raw:       raw,
		store:     store,
		cleaner:   cleaner,
		assembler: assembler,
		metrics:   metrics,
		loc:       cfg.Location(),
		history:   time.Duration(cfg.Features.HistoryDays) * 24 * time.Hour,
		start:     cfg.BackfillStart(),
		expected:  expected,
		l:         l,
	}
}

// Run fetches [from - history, to) as known at asOf, stores the raw values and
// upserts feature rows for [from, to).
func (p *FeaturePipeline) Run(ctx context.Context, from, to, asOf time.Time) (*PipelineReport, error) {
	from, to = xutil.HourFloor(from.UTC()), xutil.HourFloor(to.UTC())
	if !from.Before(to) {
		return nil, fmt.Errorf("feature pipeline: empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	fetchFrom := from.Add(-p.history)

	obs, err := p.fetch(ctx, fetchFrom, to, asOf)
	if err != nil {
		return nil, err
	}
	if err := p.raw.StoreObservations(ctx, obs); err != nil {
		return nil, fmt.Errorf("store raw observations: %w", err)
	}
	return p.build(ctx, obs, cleaning.Window{From: fetchFrom, Start: from, To: to, AsOf: asOf})
}

// Daily refreshes yesterday through the end of tomorrow (local time).
func (p *FeaturePipeline) Daily(ctx context.Context, asOf time.Time) (*PipelineReport, error) {
	today := xutil.StartOfDay(asOf, p.loc)
	from := today.AddDate(0, 0, -1)
	to := today.AddDate(0, 0, 2)
	return p.Run(ctx, from, to, asOf)
}

// Backfill walks the configured start date to the end of tomorrow one local
// month at a time. A failing month stops the backfill.
func (p *FeaturePipeline) Backfill(ctx context.Context, asOf time.Time) ([]*PipelineReport, error) {
	end := xutil.StartOfDay(asOf, p.loc).AddDate(0, 0, 2)
	var reports []*PipelineReport
	for _, r := range xutil.SplitMonths(p.start, end, p.loc) {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := p.Run(ctx, r.From, r.To, asOf)
		if err != nil {
			return reports, fmt.Errorf("backfill %s: %w", r.From.In(p.loc).Format("2006-01"), err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Rebuild re-assembles [from, to) from stored raw observations without
// calling the upstream APIs. Prices not yet published at asOf may be missing.
func (p *FeaturePipeline) Rebuild(ctx context.Context, from, to, asOf time.Time) (*PipelineReport, error) {
	from, to = xutil.HourFloor(from.UTC()), xutil.HourFloor(to.UTC())
	fetchFrom := from.Add(-p.history)
	obs, err := p.raw.ReadObservations(ctx, fetchFrom, to)
	if err != nil {
		return nil, fmt.Errorf("read raw observations: %w", err)
	}
	return p.build(ctx, obs, cleaning.Window{From: fetchFrom, Start: from, To: to, AsOf: asOf})
}

func (p *FeaturePipeline) fetch(ctx context.Context, from, to, asOf time.Time) ([]models.RawObservation, error) {
	var obs []models.RawObservation
	calls := []struct {
		name string
		fn   func(context.Context, time.Time, time.Time) ([]models.RawObservation, error)
	}{
		{"prices", p.market.FetchPrices},
		{"load_forecast", p.market.FetchLoadForecast},
		{"generation_forecast", p.market.FetchGenerationForecast},
	}
	for _, c := range calls {
		got, err := c.fn(ctx, from, to)
		if err != nil {
			p.recordError(err)
			return nil, fmt.Errorf("fetch %s: %w", c.name, err)
		}
		obs = append(obs, got...)
	}
	got, err := p.weather.Fetch(ctx, from, to, asOf)
	if err != nil {
		p.recordError(err)
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	obs = append(obs, got...)

	if p.metrics != nil {
		counts := make(map[models.SeriesKey]int)
		for _, o := range obs {
			counts[models.SeriesKey{Source: o.Source, Field: o.Field}]++
		}
		for k, n := range counts {
			p.metrics.RecordFetch(string(k.Source), k.Field, n)
		}
	}
	return obs, nil
}

func (p *FeaturePipeline) build(ctx context.Context, obs []models.RawObservation, w cleaning.Window) (*PipelineReport, error) {
	from, to := w.Start, w.To
	frame, err := p.cleaner.CleanWindow(obs, w, p.expected...)
	if err != nil {
		p.recordError(err)
		return nil, fmt.Errorf("clean: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordCleaning(frame.Report.RequestedHours, frame.Report.ExcludedHours)
	}

	table, err := p.assembler.Assemble(frame, from, to)
	if err != nil {
		p.recordError(err)
		return nil, fmt.Errorf("assemble: %w", err)
	}
	if err := p.store.Upsert(ctx, table); err != nil {
		return nil, fmt.Errorf("upsert features: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordRowsUpserted(table.Len())
	}

	rep := &PipelineReport{
		From:           from,
		To:             to,
		Observations:   len(obs),
		RequestedHours: frame.Report.RequestedHours,
		ExcludedHours:  frame.Report.ExcludedHours,
		RowsUpserted:   table.Len(),
		Filled:         frame.Report.Filled,
	}
	for _, r := range table.Rows {
		if !r.HasTarget() {
			rep.RowsNoTarget++
		}
	}
	p.l.Info("feature pipeline done",
		applogger.Time("from", from),
		applogger.Time("to", to),
		applogger.Int("observations", rep.Observations),
		applogger.Int("excluded_hours", rep.ExcludedHours),
		applogger.Int("rows", rep.RowsUpserted),
		applogger.Int("rows_without_target", rep.RowsNoTarget),
	)
	return rep, nil
}

func (p *FeaturePipeline) recordError(err error) {
	if p.metrics != nil {
		p.metrics.RecordError(errorKind(err))
	}
}
