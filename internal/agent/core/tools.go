package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/config"
	"github.com/finsight-ai/finsight/tools/marketdata"
	"github.com/finsight-ai/finsight/tools/webfetch"
	"github.com/finsight-ai/finsight/tools/websearch"
	"github.com/finsight-ai/finsight/utils"
)

// Registry holds the tools available to agents.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Specs returns wire specs for the named tools; all tools when names is empty.
func (r *Registry) Specs(names ...string) []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		names = make([]string, 0, len(r.tools))
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	var specs []ToolSpec
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
		}
	}
	return specs
}

// funcTool adapts a plain function into a Tool.
type funcTool struct {
	name     string
	desc     string
	params   map[string]interface{}
	highRisk bool
	fn       func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (t *funcTool) Name() string                        { return t.name }
func (t *funcTool) Description() string                 { return t.desc }
func (t *funcTool) Parameters() map[string]interface{}  { return t.params }
func (t *funcTool) HighRisk() bool                      { return t.highRisk }
func (t *funcTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.fn(ctx, args)
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func argFloats(args map[string]interface{}, key string) []float64 {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		case json.Number:
			if f, err := v.Float64(); err == nil {
				out = append(out, f)
			}
		}
	}
	return out
}

// NewBuiltinRegistry wires the standard toolset from configuration.
// Tools whose upstream is not configured (e.g. web search without an API
// key) are skipped with a log line rather than failing startup.
func NewBuiltinRegistry(cfg config.ToolsConfig, logger *log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	r := NewRegistry()

	mustRegister := func(t Tool) {
		if err := r.Register(t); err != nil {
			logger.Printf("tool registration failed: %v", err)
		}
	}

	mustRegister(&funcTool{
		name: "get_current_time",
		desc: "Get the current date and time, optionally in a specific IANA timezone.",
		params: objectSchema(map[string]interface{}{
			"timezone": map[string]interface{}{"type": "string", "description": "IANA timezone name, e.g. America/New_York"},
		}),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			loc := time.UTC
			if tz := argString(args, "timezone"); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
				}
				loc = l
			}
			return time.Now().In(loc).Format("2006-01-02 15:04:05 MST"), nil
		},
	})

	mustRegister(&funcTool{
		name: "count_letters",
		desc: "Count how many times a letter appears in a word.",
		params: objectSchema(map[string]interface{}{
			"word":   map[string]interface{}{"type": "string"},
			"letter": map[string]interface{}{"type": "string"},
		}, "word", "letter"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			word := argString(args, "word")
			letter := argString(args, "letter")
			if word == "" || letter == "" {
				return "", fmt.Errorf("word and letter are required")
			}
			n := strings.Count(strings.ToLower(word), strings.ToLower(letter[:1]))
			return fmt.Sprintf("The letter %q appears %d time(s) in %q.", letter[:1], n, word), nil
		},
	})

	mustRegister(&funcTool{
		name: "calculate_metrics",
		desc: "Compute summary statistics (mean, min, max, stddev, total return) over a numeric series.",
		params: objectSchema(map[string]interface{}{
			"values": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "number"}},
		}, "values"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			values := argFloats(args, "values")
			if len(values) == 0 {
				return "", fmt.Errorf("values must be a non-empty array of numbers")
			}
			min, max, sum := values[0], values[0], 0.0
			for _, v := range values {
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
				sum += v
			}
			mean := sum / float64(len(values))
			variance := 0.0
			for _, v := range values {
				variance += (v - mean) * (v - mean)
			}
			stddev := math.Sqrt(variance / float64(len(values)))
			totalReturn := 0.0
			if values[0] != 0 {
				totalReturn = (values[len(values)-1] - values[0]) / values[0] * 100
			}
			out, _ := json.Marshal(map[string]interface{}{
				"count":            len(values),
				"mean":             mean,
				"min":              min,
				"max":              max,
				"stddev":           stddev,
				"total_return_pct": totalReturn,
			})
			return string(out), nil
		},
	})

	md := marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.Timeout)

	mustRegister(&funcTool{
		name: "get_stock_price",
		desc: "Get the latest traded price for a stock ticker symbol.",
		params: objectSchema(map[string]interface{}{
			"symbol": map[string]interface{}{"type": "string", "description": "Ticker symbol, e.g. AAPL"},
		}, "symbol"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			q, err := md.GetQuote(ctx, argString(args, "symbol"))
			if err != nil {
				return "", err
			}
			out, _ := json.Marshal(q)
			return string(out), nil
		},
	})

	mustRegister(&funcTool{
		name: "get_stock_history",
		desc: "Get daily closing prices for a stock over a period.",
		params: objectSchema(map[string]interface{}{
			"symbol":      map[string]interface{}{"type": "string"},
			"period_days": map[string]interface{}{"type": "integer", "description": "Days of history (default 30)"},
		}, "symbol"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			bars, err := md.GetHistory(ctx, argString(args, "symbol"), argInt(args, "period_days", 30))
			if err != nil {
				return "", err
			}
			out, _ := json.Marshal(bars)
			return string(out), nil
		},
	})

	var searcher websearch.Searcher
	switch {
	case cfg.WebSearch.BraveAPIKey != "":
		searcher, _ = websearch.New(websearch.BraveProvider, cfg.WebSearch.BraveAPIKey, cfg.WebSearch.Timeout)
	case cfg.WebSearch.SerperAPIKey != "":
		searcher, _ = websearch.New(websearch.SerperProvider, cfg.WebSearch.SerperAPIKey, cfg.WebSearch.Timeout)
	}
	if searcher != nil {
		maxResults := cfg.WebSearch.MaxResults
		if maxResults <= 0 {
			maxResults = 5
		}
		mustRegister(&funcTool{
			name: "web_search",
			desc: "Search the web and return titles, URLs and snippets.",
			params: objectSchema(map[string]interface{}{
				"query":       map[string]interface{}{"type": "string"},
				"max_results": map[string]interface{}{"type": "integer"},
			}, "query"),
			fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
				k := argInt(args, "max_results", maxResults)
				results, err := searcher.Discover(ctx, argString(args, "query"), k)
				if err != nil {
					return "", err
				}
				out, _ := json.Marshal(results)
				return string(out), nil
			},
		})
	} else {
		logger.Printf("web_search tool disabled: no search API key configured")
	}

	fetcher := webfetch.Fetcher{Timeout: cfg.Scrape.Timeout, MaxChars: cfg.Scrape.MaxChars}
	mustRegister(&funcTool{
		name: "scrape_summary",
		desc: "Fetch a web page and return its readable article text.",
		params: objectSchema(map[string]interface{}{
			"url": map[string]interface{}{"type": "string"},
		}, "url"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			article, err := fetcher.Fetch(ctx, argString(args, "url"))
			if err != nil {
				return "", err
			}
			if article.Text == "" {
				return fmt.Sprintf("No readable content extracted from %s (status %d).", article.URL, article.Status), nil
			}
			return fmt.Sprintf("%s\n\n%s", article.Title, utils.Truncate(article.Text, 4000)), nil
		},
	})

	mustRegister(&funcTool{
		name:     "buy_stock",
		desc:     "Place a simulated market buy order for a stock. Requires human approval.",
		highRisk: true,
		params: objectSchema(map[string]interface{}{
			"symbol":   map[string]interface{}{"type": "string"},
			"quantity": map[string]interface{}{"type": "integer"},
		}, "symbol", "quantity"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			symbol := strings.ToUpper(argString(args, "symbol"))
			qty := argInt(args, "quantity", 0)
			if symbol == "" || qty <= 0 {
				return "", fmt.Errorf("symbol and a positive quantity are required")
			}
			return fmt.Sprintf("BUY ORDER EXECUTED: %d shares of %s (order %s, simulated)", qty, symbol, uuid.NewString()[:8]), nil
		},
	})

	mustRegister(&funcTool{
		name:     "send_email",
		desc:     "Send an email on the user's behalf. Requires human approval.",
		highRisk: true,
		params: objectSchema(map[string]interface{}{
			"to":      map[string]interface{}{"type": "string"},
			"subject": map[string]interface{}{"type": "string"},
			"body":    map[string]interface{}{"type": "string"},
		}, "to", "subject"),
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			to := argString(args, "to")
			if to == "" {
				return "", fmt.Errorf("recipient required")
			}
			return fmt.Sprintf("EMAIL SENT to %s with subject %q (simulated)", to, argString(args, "subject")), nil
		},
	})

	return r, nil
}
