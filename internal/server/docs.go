package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const serviceVersion = "0.1.0"

// registerDocs registers the root service descriptor.
func registerDocs(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"service": "finsight",
			"version": serviceVersion,
			"endpoints": []string{
				"GET /healthz",
				"GET /metrics",
				"POST /api/chat",
				"POST /api/agent",
				"POST /api/graph",
				"GET /api/graph/pending",
				"POST /api/graph/approve",
				"GET /api/graph/history",
				"POST /api/graph/rewind",
				"POST /api/multi-agent",
				"POST /api/ui",
				"GET /api/ui/stream",
				"POST /api/auth/signup",
				"POST /api/auth/login",
				"POST /api/auth/logout",
				"GET /api/cache/stats",
				"DELETE /api/cache",
			},
		})
	})
}
