package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	models "KrakenPulse/internal/domain/models"
	"KrakenPulse/internal/services/trend"
	xhttp "KrakenPulse/pkg/http"
	xlogger "KrakenPulse/pkg/logger"
	"KrakenPulse/pkg/util"

	"github.com/labstack/echo/v4"
)

// maxWindowMinutes bounds dashboard offsets to one day.
const maxWindowMinutes = 1440

// CycleReader serves the latest ranked cycle.
type CycleReader interface {
	Top(ctx context.Context, n int) (models.TrendCycle, bool, error)
}

// DashboardReader builds dashboard rows.
type DashboardReader interface {
	Rows(ctx context.Context, windows []int) ([]models.DashboardRow, error)
}

// HealthChecker reports storage reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// TrendEchoHandler serves trend, dashboard, history and health endpoints.
type TrendEchoHandler struct {
	logger    *xlogger.Logger
	board     CycleReader
	dashboard DashboardReader
	history   *trend.HistoryStore
	health    HealthChecker
	backend   string
	now       func() time.Time
}

func NewTrendEchoHandler(
	logger *xlogger.Logger,
	board CycleReader,
	dashboard DashboardReader,
	history *trend.HistoryStore,
	health HealthChecker,
	backend string,
) *TrendEchoHandler {
	return &TrendEchoHandler{
		logger:    logger,
		board:     board,
		dashboard: dashboard,
		history:   history,
		health:    health,
		backend:   backend,
		now:       time.Now,
	}
}

func (h *TrendEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/trending", h.Trending)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/history/:instrument", h.History)
	g.GET("/health", h.Health)
}

func (h *TrendEchoHandler) Trending(c echo.Context) error {
	req := &models.TrendingRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	cycle, ok, err := h.board.Top(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("trending read error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("no trend cycle completed yet"))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return xhttp.SuccessResponse(c, cycle)
}

func (h *TrendEchoHandler) Dashboard(c echo.Context) error {
	req := &models.DashboardRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	windows, appErr := parseWindows(req.Windows)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	rows, err := h.dashboard.Rows(c.Request().Context(), windows)
	if err != nil {
		h.logger.Error("dashboard usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func parseWindows(s string) ([]int, *xhttp.AppError) {
	windows, err := util.ParseIntList(s)
	if err != nil {
		return nil, xhttp.BadRequestError("windows", err.Error())
	}
	for _, w := range windows {
		if w < 1 || w > maxWindowMinutes {
			return nil, xhttp.BadRequestError("windows", fmt.Sprintf("window %d must be between 1 and %d minutes", w, maxWindowMinutes)).
				WithParam("max", maxWindowMinutes)
		}
	}
	return windows, nil
}

func (h *TrendEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	samples := h.history.Samples(req.Instrument)
	if len(samples) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no history for %s", req.Instrument))
	}
	resp := models.HistoryResponse{
		Instrument: req.Instrument,
		Capacity:   h.history.Capacity(),
		Samples:    samples,
	}

	if req.Interval > 0 {
		at := h.now().UTC()
		if req.At != "" {
			t, ok := util.ParseTime(req.At)
			if !ok {
				return xhttp.AppErrorResponse(c, xhttp.BadRequestError("at", "at must be RFC3339 or unix seconds"))
			}
			at = t
		}
		if s, ok := h.history.ClosestAtOrBefore(req.Instrument, req.Interval, at); ok {
			resp.Match = &s
		}
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *TrendEchoHandler) Health(c echo.Context) error {
	resp := models.HealthResponse{Status: "ok", Backend: h.backend}
	if h.health == nil {
		return xhttp.SuccessResponse(c, resp)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	if err := h.health.Health(ctx); err != nil {
		h.logger.Warn("storage health check failed", xlogger.Error(err))
		resp.Status = "degraded"
		resp.Error = err.Error()
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, resp)
	}
	return xhttp.SuccessResponse(c, resp)
}
