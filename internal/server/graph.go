package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/finsight-ai/finsight/internal/agent/core"
)

// GraphHandler exposes the stateful conversation graph: turns, pending
// approvals, history and rewind.
type GraphHandler struct {
	Agent *core.GraphAgent
	// HITLDefault applies when a request omits enable_hitl.
	HITLDefault bool
}

func (h *GraphHandler) Register(g *echo.Group) {
	g.POST("", h.converse)
	g.GET("/pending", h.pending)
	g.POST("/approve", h.approve)
	g.GET("/history", h.history)
	g.POST("/rewind", h.rewind)
}

func (h *GraphHandler) converse(c echo.Context) error {
	var req GraphRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	enableHITL := h.HITLDefault
	if req.EnableHITL != nil {
		enableHITL = *req.EnableHITL
	}
	res, err := h.Agent.Converse(c.Request().Context(), req.ThreadID, req.Message, enableHITL)
	if err != nil {
		if strings.Contains(err.Error(), "awaiting approval") {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *GraphHandler) pending(c echo.Context) error {
	threadID := strings.TrimSpace(c.QueryParam("thread_id"))
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	status, err := h.Agent.Pending(c.Request().Context(), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

func (h *GraphHandler) approve(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	res, err := h.Agent.Approve(c.Request().Context(), req.ThreadID, req.Approved)
	if err != nil {
		if err == core.ErrNoPending {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *GraphHandler) history(c echo.Context) error {
	threadID := strings.TrimSpace(c.QueryParam("thread_id"))
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	msgs, count, err := h.Agent.History(c.Request().Context(), threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, HistoryResponse{ThreadID: threadID, Messages: msgs, CheckpointCount: count})
}

func (h *GraphHandler) rewind(c echo.Context) error {
	var req RewindRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id required")
	}
	if req.StepsBack <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "steps_back must be positive")
	}
	id, count, err := h.Agent.Rewind(c.Request().Context(), req.ThreadID, req.StepsBack)
	if err != nil {
		if strings.Contains(err.Error(), "cannot rewind") {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, RewindResponse{ThreadID: req.ThreadID, RestoredTo: id, CheckpointCount: count})
}
