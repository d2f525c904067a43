package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RegisterRoutes configures all API routes, middleware and error handlers.
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	e.HTTPErrorHandler = JSONErrorHandler()

	e.Use(SetJSONContentType)
	e.Use(SetNoCacheHeaders)

	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
			Skipper: func(c echo.Context) bool {
				// Health and scrape endpoints stay open.
				return c.Path() == "/v1/health" || c.Path() == "/metrics"
			},
		}))
	}

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)

	v1.POST("/orders", h.Submit)
	v1.GET("/orders", h.List)
	v1.GET("/orders/:id", h.Get)
	v1.GET("/orders/:id/stream", h.Subscribe)
	v1.GET("/stats", h.Stats)

	toggleGroup := v1.Group("/venues")
	toggleGroup.GET("/toggles", h.TogglesList)
	toggleGroup.GET("/toggles/:venue", h.TogglesGet)
	toggleGroup.PUT("/toggles/:venue", h.TogglesSet)
	toggleGroup.DELETE("/toggles/:venue", h.TogglesDelete)

	if h.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.Metrics))
	}

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}
