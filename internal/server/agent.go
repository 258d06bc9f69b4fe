package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/finsight-ai/finsight/internal/agent/core"
	"github.com/finsight-ai/finsight/internal/ui"
)

// AgentHandler runs the single-agent tool loop over the full registry.
type AgentHandler struct {
	Exec    *core.Executor
	Builder *ui.Builder
	Logger  *log.Logger
}

func (h *AgentHandler) Register(g *echo.Group) {
	g.POST("", h.run)
}

func (h *AgentHandler) run(c echo.Context) error {
	var req AgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	start := time.Now()
	history := []core.ChatMessage{
		{Role: core.RoleSystem, Content: "You are a financial research assistant. Use the available tools when they help."},
		{Role: core.RoleUser, Content: req.Message},
	}
	outcome, err := h.Exec.Run(c.Request().Context(), history, nil, false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	resp := AgentResponse{AgentResult: core.AgentResult{
		ID:             uuid.NewString(),
		Answer:         outcome.Answer,
		ToolsUsed:      outcome.ToolsUsed,
		TokensUsed:     outcome.Usage.Total(),
		CostEstimate:   outcome.Cost,
		ProcessingTime: time.Since(start),
	}}
	if req.WithArtifact && h.Builder != nil {
		artifact, err := h.Builder.Build(c.Request().Context(), req.Message)
		if err != nil {
			h.Logger.Printf("artifact generation failed: %v", err)
		} else {
			resp.Artifact = &artifact
		}
	}
	return c.JSON(http.StatusOK, resp)
}
