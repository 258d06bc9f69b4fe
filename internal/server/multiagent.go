package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/finsight-ai/finsight/internal/agent/core"
	"github.com/finsight-ai/finsight/internal/cache"
	"github.com/finsight-ai/finsight/internal/ui"
)

// MultiAgentHandler runs the supervisor graph behind the semantic cache.
type MultiAgentHandler struct {
	Supervisor *core.Supervisor
	Cache      *cache.Service
	Builder    *ui.Builder
	Model      string
	Logger     *log.Logger
}

func (h *MultiAgentHandler) Register(g *echo.Group) {
	g.POST("", h.run)
}

func (h *MultiAgentHandler) run(c echo.Context) error {
	var req MultiAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	ctx := c.Request().Context()

	// On a miss the lookup still hands back the query embedding, which the
	// Put below reuses instead of embedding the query a second time.
	var queryVec []float32
	if h.Cache != nil {
		hit, ok, err := h.Cache.Lookup(ctx, req.Message)
		if err != nil {
			h.Logger.Printf("cache lookup failed: %v", err)
		} else if ok {
			res := core.AgentResult{
				Answer:     hit.Response,
				Cached:     true,
				Similarity: hit.Similarity,
			}
			return c.JSON(http.StatusOK, h.withArtifact(ctx, req, res))
		} else {
			queryVec = hit.Embedding
		}
	}

	res, err := h.Supervisor.Run(ctx, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	if h.Cache != nil {
		if err := h.Cache.Put(ctx, req.Message, res.Answer, h.Model, queryVec); err != nil {
			h.Logger.Printf("cache store failed: %v", err)
		}
	}
	return c.JSON(http.StatusOK, h.withArtifact(ctx, req, res))
}

// withArtifact optionally decorates the result with a UI artifact. Artifact
// failures are logged, never fatal to the answer.
func (h *MultiAgentHandler) withArtifact(ctx context.Context, req MultiAgentRequest, res core.AgentResult) AgentResponse {
	out := AgentResponse{AgentResult: res}
	if req.WithArtifact && h.Builder != nil {
		artifact, err := h.Builder.Build(ctx, req.Message)
		if err != nil {
			h.Logger.Printf("artifact build failed: %v", err)
		} else {
			out.Artifact = &artifact
		}
	}
	return out
}

// CacheHandler exposes cache stats and flush behind auth.
type CacheHandler struct {
	Cache *cache.Service
}

func (h *CacheHandler) Register(g *echo.Group) {
	g.GET("/stats", h.stats)
	g.DELETE("", h.flush)
}

func (h *CacheHandler) stats(c echo.Context) error {
	stats, err := h.Cache.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *CacheHandler) flush(c echo.Context) error {
	n, err := h.Cache.Flush(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, FlushResponse{Flushed: n})
}
