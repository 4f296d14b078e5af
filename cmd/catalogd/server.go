package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mare-catalogo/backend/cmd/catalogd/handlers"
	"github.com/mare-catalogo/backend/internal/logging"
)

// newServer builds the HTTP surface: the API under /api, the control
// channel, metrics, and the cache controller for everything else.
func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger())

	api := e.Group("/api")
	api.GET("/health", func(c echo.Context) error {
		version, _ := a.registry.Version()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "catalogd",
			"version": version,
			"online":  a.tracker.Online(),
		})
	})
	api.GET("/monitor", func(c echo.Context) error {
		return c.JSON(http.StatusOK, a.monitor.GetStatus())
	})

	handlers.NewOrderHandler(a.remote, a.remote, a.queue, a.tracker.Online).Register(api)
	handlers.NewConnectivityHandler(a.tracker).Register(api)
	handlers.NewWorkerHandler(a.registry).Register(api)

	e.GET("/ws", echo.WrapHandler(HandleWebSocket(a.hub)))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	e.Any("/*", echo.WrapHandler(a.registry))
	return e
}

func requestLogger() echo.MiddlewareFunc {
	log := logging.Named("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := logging.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"source":     c.Response().Header().Get("X-Cache-Source"),
			}
			if v.Error != nil {
				log.Error("request failed", v.Error, fields)
				return nil
			}
			log.Debug("request", fields)
			return nil
		},
	})
}
