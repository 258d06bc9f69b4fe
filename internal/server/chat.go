package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/finsight-ai/finsight/internal/agent/core"
)

// ChatHandler serves plain completions with no tool access.
type ChatHandler struct {
	LLM   core.LLMProvider
	Model string
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.chat)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	model := req.Model
	if model == "" {
		model = h.Model
	}
	reply, usage, err := h.LLM.Chat(c.Request().Context(), []core.ChatMessage{
		{Role: core.RoleUser, Content: req.Message},
	}, model, nil, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, ChatResponse{
		Response:   reply.Content,
		Model:      model,
		TokensUsed: usage.Total(),
		Cost:       h.LLM.CalculateCost(usage.PromptTokens, usage.CompletionTokens, model),
	})
}
