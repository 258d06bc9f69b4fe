package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/finsight-ai/finsight/internal/ui"
)

// UIHandler generates UI artifacts, one-shot or staged over SSE.
type UIHandler struct {
	Builder *ui.Builder
	// StreamEnabled gates the SSE endpoint.
	StreamEnabled bool
}

func (h *UIHandler) Register(g *echo.Group) {
	g.POST("", h.build)
	g.GET("/stream", h.stream)
}

func (h *UIHandler) build(c echo.Context) error {
	var req UIRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	artifact, err := h.Builder.Build(c.Request().Context(), req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, artifact)
}

// stream emits each generation stage as an SSE update frame.
func (h *UIHandler) stream(c echo.Context) error {
	if !h.StreamEnabled {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ui stream disabled")
	}
	query := strings.TrimSpace(c.QueryParam("query"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	ctx := c.Request().Context()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(st ui.Stage) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: update\n")); err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.Builder.BuildStages(ctx, query, send); err != nil {
		// Headers are already out; report the failure in-stream.
		_ = send(ui.Stage{Stage: "error", Message: err.Error()})
	}
	return nil
}
