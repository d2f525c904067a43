package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-zulfiqar/dex-execution-engine/internal/engine"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/hub"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/models"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/queue"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/storage"
	"github.com/aman-zulfiqar/dex-execution-engine/internal/toggles"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// DepthReporter exposes queue gauges for stats. Nil-able in tests.
type DepthReporter interface {
	Depths(ctx context.Context) (*queue.Depths, error)
}

// Handlers contains all dependencies for API endpoint handlers.
type Handlers struct {
	Engine  *engine.Engine
	Store   storage.OrderStore
	Hub     *hub.Hub
	Queue   DepthReporter   // optional
	Toggles *toggles.Store  // optional
	Metrics http.Handler    // optional, mounted at /metrics
	DevMode bool
	Logger  *logrus.Logger
}

func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Health returns a simple liveness check.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{OK: true})
}

// Submit accepts a market order, persists it pending and enqueues it.
func (h *Handlers) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	orderType := models.TypeMarket
	if req.Type != "" {
		orderType = models.OrderType(req.Type)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	order, err := h.Engine.Submit(ctx, &models.OrderDraft{
		Type:     orderType,
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		AmountIn: req.AmountIn,
		Slippage: req.Slippage,
	})
	if err != nil {
		if engine.IsValidation(err) {
			return h.err(c, http.StatusBadRequest, err.Error(), nil)
		}
		h.Logger.WithError(err).Error("order submission failed")
		return h.err(c, http.StatusInternalServerError, "failed to submit order", nil)
	}

	return c.JSON(http.StatusOK, SubmitResponse{
		OrderID:      order.ID,
		Status:       string(order.Status),
		SubscribeURL: h.subscribeURL(c, order.ID),
	})
}

// subscribeURL builds the stream address: secure scheme iff the transport is.
func (h *Handlers) subscribeURL(c echo.Context, orderID string) string {
	scheme := "ws"
	if c.Request().TLS != nil || c.Scheme() == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/v1/orders/%s/stream", scheme, c.Request().Host, orderID)
}

// Get returns a single order by ID.
func (h *Handlers) Get(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	order, err := h.Engine.Find(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return h.err(c, http.StatusNotFound, "order not found", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to get order", nil)
	}
	return c.JSON(http.StatusOK, order)
}

// List returns a page of orders, newest first, optionally filtered by status.
func (h *Handlers) List(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 100"})
		}
		limit = n
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return h.err(c, http.StatusBadRequest, "invalid offset", map[string]any{"offset": "must be >= 0"})
		}
		offset = n
	}

	filter := storage.ListFilter{Limit: limit, Offset: offset}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.OrderStatus(raw)
		if !status.Valid() {
			return h.err(c, http.StatusBadRequest, "invalid status", map[string]any{"status": raw})
		}
		filter.Status = &status
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	orders, total, err := h.Store.List(ctx, filter)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to list orders", nil)
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return c.JSON(http.StatusOK, ListResponse{
		Orders:     orders,
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	})
}

// Stats aggregates order counts, queue depths and subscription totals.
func (h *Handlers) Stats(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	counts := make(map[string]int)
	for _, status := range []models.OrderStatus{
		models.StatusPending, models.StatusRouting, models.StatusBuilding,
		models.StatusSubmitted, models.StatusConfirmed, models.StatusFailed,
	} {
		status := status
		n, err := h.Store.Count(ctx, &status)
		if err != nil {
			return h.err(c, http.StatusInternalServerError, "failed to count orders", nil)
		}
		counts[string(status)] = n
	}

	resp := StatsResponse{
		Orders:        counts,
		Subscriptions: h.Hub.Stats(),
	}
	if h.Queue != nil {
		depths, err := h.Queue.Depths(ctx)
		if err != nil {
			h.Logger.WithError(err).Warn("queue depths unavailable")
		} else {
			resp.Queue = depths
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// TogglesList returns every venue toggle.
func (h *Handlers) TogglesList(c echo.Context) error {
	if h.Toggles == nil {
		return h.err(c, http.StatusNotFound, "toggles not configured", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	items, err := h.Toggles.List(ctx)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to list toggles", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// TogglesSet enables or disables a venue at runtime.
func (h *Handlers) TogglesSet(c echo.Context) error {
	if h.Toggles == nil {
		return h.err(c, http.StatusNotFound, "toggles not configured", nil)
	}
	venueName := c.Param("venue")
	if err := toggles.ValidateVenue(venueName); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid venue", nil)
	}
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Toggles.Set(ctx, venueName, req.Enabled)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to set toggle", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// TogglesGet returns one venue toggle.
func (h *Handlers) TogglesGet(c echo.Context) error {
	if h.Toggles == nil {
		return h.err(c, http.StatusNotFound, "toggles not configured", nil)
	}
	venueName := c.Param("venue")
	if err := toggles.ValidateVenue(venueName); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid venue", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Toggles.Get(ctx, venueName)
	if err != nil {
		if errors.Is(err, toggles.ErrNotFound) {
			return h.err(c, http.StatusNotFound, "toggle not found", nil)
		}
		return h.err(c, http.StatusInternalServerError, "failed to get toggle", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// TogglesDelete clears a venue toggle, restoring the enabled default.
func (h *Handlers) TogglesDelete(c echo.Context) error {
	if h.Toggles == nil {
		return h.err(c, http.StatusNotFound, "toggles not configured", nil)
	}
	venueName := c.Param("venue")
	if err := toggles.ValidateVenue(venueName); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid venue", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Toggles.Delete(ctx, venueName); err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to delete toggle", nil)
	}
	return c.NoContent(http.StatusNoContent)
}
