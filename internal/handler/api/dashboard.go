package api

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	"SE3Price/internal/services/forecast"
	"SE3Price/pkg/config"
	xhttp "SE3Price/pkg/http"
	applogger "SE3Price/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

//go:embed templates/dashboard.html
var templates embed.FS

// DashboardHandler serves the read-only view of the latest prediction artifact.
type DashboardHandler struct {
	src      domrepo.PredictionSource
	region   string
	loc      *time.Location
	cheapest int
	poll     time.Duration
	page     *template.Template
	upgrader websocket.Upgrader
	l        *applogger.Logger
}

func NewDashboardHandler(cfg *config.Config, src domrepo.PredictionSource, l *applogger.Logger) (*DashboardHandler, error) {
	if l == nil {
		l = applogger.Nop()
	}
	page, err := template.ParseFS(templates, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}
	poll := cfg.Server.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &DashboardHandler{
		src:      src,
		region:   cfg.Region.Name,
		loc:      cfg.Location(),
		cheapest: cfg.Inference.CheapestHours,
		poll:     poll,
		page:     page,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		l:        l,
	}, nil
}

func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/healthz", h.Health)
	e.GET("/ws/predictions", h.Stream)

	g := e.Group("/api")
	g.GET("/predictions", h.Predictions)
	g.GET("/cheapest", h.Cheapest)
	g.GET("/summary", h.Summary)
}

func (h *DashboardHandler) latest(ctx context.Context) ([]models.PredictionRecord, time.Time, error) {
	records, mod, err := h.src.Latest(ctx)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, time.Time{}, xhttp.NotFoundError("no predictions have been published yet").WithError(err)
	}
	if err != nil {
		h.l.Error("read predictions failed", applogger.Error(err))
		return nil, time.Time{}, xhttp.InternalError("could not read predictions").WithError(err)
	}
	return records, mod, nil
}

func (h *DashboardHandler) Predictions(c echo.Context) error {
	req := &models.PredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	records, _, err := h.latest(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	switch models.Mode(req.Mode) {
	case models.ModeForecast:
		records = models.Forecasts(records)
	case models.ModeBacktest:
		records = models.Backtests(records)
	}
	total := len(records)
	if req.Limit < total {
		records = records[:req.Limit]
	}
	return xhttp.ListResponse(c, records, int64(total))
}

func (h *DashboardHandler) Cheapest(c echo.Context) error {
	req := &models.CheapestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if c.QueryParam("n") == "" {
		req.N = h.cheapest
	}
	records, _, err := h.latest(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, forecast.CheapestHours(records, req.N))
}

type summaryResponse struct {
	forecast.Summary
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *DashboardHandler) Summary(c echo.Context) error {
	records, mod, err := h.latest(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, summaryResponse{Summary: forecast.Summarize(records), UpdatedAt: mod.In(h.loc)})
}

func (h *DashboardHandler) Health(c echo.Context) error {
	out := map[string]interface{}{"status": "ok"}
	_, mod, err := h.src.Latest(c.Request().Context())
	switch {
	case err == nil:
		out["artifact_updated_at"] = mod.In(h.loc)
	case errors.Is(err, domrepo.ErrNotFound):
		out["artifact"] = "missing"
	default:
		out["artifact"] = "unreadable"
	}
	return c.JSON(http.StatusOK, out)
}

// Index renders the dashboard page. A missing artifact renders an empty page
// rather than an error.
func (h *DashboardHandler) Index(c echo.Context) error {
	records, mod, err := h.src.Latest(c.Request().Context())
	if err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		h.l.Error("read predictions failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not read predictions").WithError(err))
	}
	var buf bytes.Buffer
	if err := h.page.Execute(&buf, h.view(records, mod)); err != nil {
		h.l.Error("render dashboard failed", applogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

type streamMessage struct {
	UpdatedAt time.Time                 `json:"updated_at"`
	Records   []models.PredictionRecord `json:"records"`
}

// Stream pushes the artifact to a websocket client on connect and again every
// time its modification time changes.
func (h *DashboardHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	// the server read timeout would otherwise end the stream
	_ = conn.SetReadDeadline(time.Time{})

	// Drain client frames so close and ping are handled.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request().Context()
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	var last time.Time
	for {
		records, mod, err := h.src.Latest(ctx)
		switch {
		case err == nil && !mod.Equal(last):
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(streamMessage{UpdatedAt: mod.In(h.loc), Records: records}); err != nil {
				h.l.Debug("websocket write failed", applogger.Error(err))
				return nil
			}
			last = mod
		case err != nil && !errors.Is(err, domrepo.ErrNotFound):
			h.l.Warn("websocket poll failed", applogger.Error(err))
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

const wsWriteWait = 10 * time.Second

const (
	chartWidth  = 900
	chartHeight = 300
	chartPad    = 30
)

type hourView struct {
	Time      string
	Predicted string
	Actual    string
	Error     string
}

type chartView struct {
	Width     int
	Height    int
	Predicted string
	Actual    string
	SplitX    string
	Min       string
	Max       string
}

type pageView struct {
	Region    string
	UpdatedAt string
	Empty     bool
	Mode      string
	Summary   forecast.Summary
	MAE       string
	Cheapest  []hourView
	Rows      []hourView
	Chart     chartView
}

func (h *DashboardHandler) view(records []models.PredictionRecord, mod time.Time) pageView {
	v := pageView{Region: h.region, Empty: len(records) == 0}
	if v.Empty {
		return v
	}
	v.UpdatedAt = mod.In(h.loc).Format("2006-01-02 15:04")
	v.Summary = forecast.Summarize(records)
	if v.Summary.BacktestMAE != nil {
		v.MAE = price(*v.Summary.BacktestMAE)
	}

	shown := models.Forecasts(records)
	v.Mode = string(models.ModeForecast)
	if len(shown) == 0 {
		shown = models.Backtests(records)
		v.Mode = string(models.ModeBacktest)
	}
	for _, r := range shown {
		v.Rows = append(v.Rows, h.hour(r))
	}
	for _, r := range forecast.CheapestHours(records, h.cheapest) {
		v.Cheapest = append(v.Cheapest, h.hour(r))
	}
	v.Chart = chart(records)
	return v
}

func (h *DashboardHandler) hour(r models.PredictionRecord) hourView {
	out := hourView{Time: r.Timestamp.In(h.loc).Format("Mon 02 Jan 15:04"), Predicted: price(r.PredictedPrice)}
	if r.ActualPrice != nil {
		out.Actual = price(*r.ActualPrice)
	}
	if r.Error != nil {
		out.Error = price(*r.Error)
	}
	return out
}

func price(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// chart lays records out left to right in time order as SVG polyline points.
// Actual prices only exist for backtest rows.
func chart(records []models.PredictionRecord) chartView {
	c := chartView{Width: chartWidth, Height: chartHeight}
	if len(records) == 0 {
		return c
	}
	lo, hi := records[0].PredictedPrice, records[0].PredictedPrice
	for _, r := range records {
		lo, hi = min(lo, r.PredictedPrice), max(hi, r.PredictedPrice)
		if r.ActualPrice != nil {
			lo, hi = min(lo, *r.ActualPrice), max(hi, *r.ActualPrice)
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	step := 0.0
	if len(records) > 1 {
		step = float64(chartWidth-2*chartPad) / float64(len(records)-1)
	}
	x := func(i int) float64 { return chartPad + step*float64(i) }
	y := func(v float64) float64 {
		return chartHeight - chartPad - (v-lo)/(hi-lo)*(chartHeight-2*chartPad)
	}

	var pred, act strings.Builder
	for i, r := range records {
		point(&pred, x(i), y(r.PredictedPrice))
		if r.ActualPrice != nil {
			point(&act, x(i), y(*r.ActualPrice))
		}
		if c.SplitX == "" && r.Mode == models.ModeForecast && i > 0 {
			c.SplitX = strconv.FormatFloat(x(i), 'f', 1, 64)
		}
	}
	c.Predicted, c.Actual = pred.String(), act.String()
	c.Min, c.Max = price(lo), price(hi)
	return c
}

func point(b *strings.Builder, x, y float64) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(strconv.FormatFloat(x, 'f', 1, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(y, 'f', 1, 64))
}
