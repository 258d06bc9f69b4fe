package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/finsight-ai/finsight/config"
	"github.com/finsight-ai/finsight/internal/agent/core"
	"github.com/finsight-ai/finsight/internal/agent/telemetry"
	"github.com/finsight-ai/finsight/internal/cache"
	"github.com/finsight-ai/finsight/internal/runtime"
	"github.com/finsight-ai/finsight/internal/store"
	"github.com/finsight-ai/finsight/internal/ui"
	"github.com/finsight-ai/finsight/tools/marketdata"
)

func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("migrate: %v (continuing, schema may already be current)", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	registry, err := core.NewBuiltinRegistry(cfg.Tools, log.New(log.Writer(), "[TOOLS] ", log.LstdFlags))
	if err != nil {
		return err
	}

	routing := cfg.LLM.Routing
	agentModel := pickModel(routing.Agent, routing.Fallback)
	chatModel := pickModel(routing.Chatting, routing.Fallback)

	exec := &core.Executor{
		LLM:           provider,
		Tools:         registry,
		Telemetry:     tele,
		Logger:        log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
		Model:         agentModel,
		MaxIterations: cfg.Agents.MaxToolIterations,
	}
	graph := &core.GraphAgent{
		Store:  st,
		Exec:   exec,
		Logger: log.New(log.Writer(), "[GRAPH] ", log.LstdFlags),
	}
	sup := core.NewSupervisor(provider, registry, tele,
		log.New(log.Writer(), "[SUPERVISOR] ", log.LstdFlags),
		core.SupervisorModels{
			Supervisor: pickModel(routing.Supervisor, routing.Fallback),
			Research:   pickModel(routing.Research, routing.Fallback),
			Quant:      pickModel(routing.Quant, routing.Fallback),
			Writer:     pickModel(routing.Writer, routing.Fallback),
		},
		cfg.Agents.MaxSupervisorHops, cfg.Agents.MaxToolIterations)

	cacheSvc := cache.NewService(st, provider, cfg.Cache, log.New(log.Writer(), "[CACHE] ", log.LstdFlags))

	market := marketdata.NewClient(cfg.Tools.MarketData.BaseURL, cfg.Tools.MarketData.Timeout)
	builder := ui.NewBuilder(market, log.New(log.Writer(), "[UI] ", log.LstdFlags))

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	(&AuthHandler{Store: st, Secret: secret}).Register(api.Group("/auth"))
	(&ChatHandler{LLM: provider, Model: chatModel}).Register(api.Group("/chat"))
	(&AgentHandler{Exec: exec, Builder: builder, Logger: log.New(log.Writer(), "[AGENT] ", log.LstdFlags)}).Register(api.Group("/agent"))
	(&GraphHandler{Agent: graph, HITLDefault: cfg.Server.HITLDefault}).Register(api.Group("/graph"))
	(&MultiAgentHandler{Supervisor: sup, Cache: cacheSvc, Builder: builder, Model: agentModel, Logger: log.New(log.Writer(), "[MULTI] ", log.LstdFlags)}).Register(api.Group("/multi-agent"))
	(&UIHandler{Builder: builder, StreamEnabled: cfg.Server.UIStreamEnabled}).Register(api.Group("/ui"))

	cacheGroup := api.Group("/cache")
	cacheGroup.Use(runtime.EchoAuthMiddleware(secret))
	(&CacheHandler{Cache: cacheSvc}).Register(cacheGroup)

	// Cache janitor, serialized across replicas via Redis when configured.
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
	}
	janitor := cache.NewJanitor(cacheSvc, rdb, log.New(log.Writer(), "[JANITOR] ", log.LstdFlags))
	janitor.Start()
	defer close(janitor.Stop)
	defer tele.Shutdown()

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":8000"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func pickModel(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
