package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finsight-ai/finsight/internal/agent/telemetry"
)

var supervisorTracer = otel.Tracer("agent/supervisor")

// Router decisions. The supervisor model must answer with exactly one.
const (
	RouteResearch = "RESEARCH_AGENT"
	RouteQuant    = "QUANT_AGENT"
	RouteWriter   = "WRITER_AGENT"
	RouteFinish   = "FINISH"
)

// DefaultMaxSupervisorHops bounds the routing loop.
const DefaultMaxSupervisorHops = 8

type worker struct {
	name   string
	route  string
	model  string
	prompt string
	tools  []string
}

// Supervisor is a fixed 4-node graph: a router plus research, quant and
// writer workers. The router is itself an LLM call.
type Supervisor struct {
	LLM       LLMProvider
	Tools     *Registry
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger

	SupervisorModel string
	MaxHops         int
	MaxIterations   int

	workers map[string]worker
}

// SupervisorModels names the model for each node.
type SupervisorModels struct {
	Supervisor string
	Research   string
	Quant      string
	Writer     string
}

// NewSupervisor wires the fixed worker graph.
func NewSupervisor(llm LLMProvider, tools *Registry, tele *telemetry.Telemetry, logger *log.Logger, models SupervisorModels, maxHops, maxIterations int) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUPERVISOR] ", log.LstdFlags)
	}
	s := &Supervisor{
		LLM:             llm,
		Tools:           tools,
		Telemetry:       tele,
		Logger:          logger,
		SupervisorModel: models.Supervisor,
		MaxHops:         maxHops,
		MaxIterations:   maxIterations,
	}
	s.workers = map[string]worker{
		RouteResearch: {
			name:  "research",
			route: RouteResearch,
			model: models.Research,
			prompt: "You are a research specialist. Gather relevant facts for the request " +
				"using web search and page scraping. Report findings concisely with sources.",
			tools: []string{"web_search", "scrape_summary"},
		},
		RouteQuant: {
			name:  "quant",
			route: RouteQuant,
			model: models.Quant,
			prompt: "You are a quantitative analyst. Fetch market data and compute the " +
				"metrics the request needs. Show the numbers you used.",
			tools: []string{"get_stock_price", "get_stock_history", "calculate_metrics"},
		},
		RouteWriter: {
			name:  "writer",
			route: RouteWriter,
			model: models.Writer,
			prompt: "You are a financial writer. Compose the final answer for the user from " +
				"the material gathered so far. Be clear and complete; do not invent data.",
			tools: nil,
		},
	}
	return s
}

func (s *Supervisor) maxHops() int {
	if s.MaxHops > 0 {
		return s.MaxHops
	}
	return DefaultMaxSupervisorHops
}

const routerPromptTemplate = `You are a supervisor coordinating three workers on a user request.

Workers:
- RESEARCH_AGENT: searches the web and scrapes pages for facts.
- QUANT_AGENT: fetches stock prices/history and computes metrics.
- WRITER_AGENT: writes the final answer from the gathered material.

User request:
%s

Work done so far:
%s

Decide the next step. Answer with exactly one token:
RESEARCH_AGENT, QUANT_AGENT, WRITER_AGENT, or FINISH (when the final answer has been written).`

func (s *Supervisor) route(ctx context.Context, query string, notes []string) (string, error) {
	done := "(nothing yet)"
	if len(notes) > 0 {
		done = strings.Join(notes, "\n\n")
	}
	reply, err := s.LLM.Generate(ctx, fmt.Sprintf(routerPromptTemplate, query, done), s.SupervisorModel, map[string]interface{}{"temperature": 0.0})
	if err != nil {
		return "", fmt.Errorf("router: %w", err)
	}
	upper := strings.ToUpper(reply)
	for _, route := range []string{RouteFinish, RouteResearch, RouteQuant, RouteWriter} {
		if strings.Contains(upper, route) {
			return route, nil
		}
	}
	return "", fmt.Errorf("router returned unroutable reply: %q", strings.TrimSpace(reply))
}

// Run drives the supervisor loop for one request.
func (s *Supervisor) Run(ctx context.Context, query string) (AgentResult, error) {
	ctx, span := supervisorTracer.Start(ctx, "Supervisor.Run")
	defer span.End()

	start := time.Now()
	res := AgentResult{ID: uuid.NewString()}
	var notes []string
	var lastOutput string
	var writerOutput string

	for hop := 0; hop < s.maxHops(); hop++ {
		route, err := s.route(ctx, query, notes)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		if route == RouteFinish {
			break
		}
		w, ok := s.workers[route]
		if !ok {
			return res, fmt.Errorf("unknown route %s", route)
		}
		span.SetAttributes(attribute.String(fmt.Sprintf("hop.%d", hop), w.name))
		s.Logger.Printf("hop %d -> %s", hop, w.name)

		history := []ChatMessage{
			{Role: RoleSystem, Content: w.prompt},
			{Role: RoleUser, Content: workerInput(query, notes)},
		}
		exec := &Executor{
			LLM:           s.LLM,
			Tools:         s.Tools,
			Telemetry:     s.Telemetry,
			Logger:        s.Logger,
			Model:         w.model,
			MaxIterations: s.MaxIterations,
		}
		outcome, err := exec.Run(ctx, history, w.tools, false)
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("%s worker: %w", w.name, err)
		}

		res.AgentsUsed = append(res.AgentsUsed, w.name)
		res.ToolsUsed = append(res.ToolsUsed, outcome.ToolsUsed...)
		res.TokensUsed += outcome.Usage.Total()
		res.CostEstimate += outcome.Cost

		notes = append(notes, fmt.Sprintf("[%s]\n%s", w.name, outcome.Answer))
		lastOutput = outcome.Answer
		if route == RouteWriter {
			writerOutput = outcome.Answer
		}
	}

	if writerOutput != "" {
		res.Answer = writerOutput
	} else {
		res.Answer = lastOutput
	}
	if res.Answer == "" {
		return res, fmt.Errorf("supervisor finished without any worker output")
	}
	res.ProcessingTime = time.Since(start)

	if s.Telemetry != nil {
		s.Telemetry.RecordProcessingEvent(ctx, telemetry.ProcessingEvent{
			ID:             res.ID,
			Query:          query,
			StartTime:      start,
			EndTime:        time.Now(),
			ProcessingTime: res.ProcessingTime,
			Success:        true,
			Cost:           res.CostEstimate,
			TokensUsed:     res.TokensUsed,
			AgentsUsed:     res.AgentsUsed,
			ToolsUsed:      res.ToolsUsed,
		})
	}
	return res, nil
}

func workerInput(query string, notes []string) string {
	if len(notes) == 0 {
		return query
	}
	return fmt.Sprintf("%s\n\nMaterial gathered so far:\n%s", query, strings.Join(notes, "\n\n"))
}
