package ui

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/finsight-ai/finsight/tools/marketdata"
)

// Stage is one step of staged artifact generation, streamed over SSE.
type Stage struct {
	Stage    string    `json:"stage"` // detecting | fetching | rendering | done
	Message  string    `json:"message"`
	Artifact *Artifact `json:"artifact,omitempty"`
}

// Builder turns a free-form query into a UI artifact backed by live market
// data.
type Builder struct {
	Market *marketdata.Client
	Logger *log.Logger
}

func NewBuilder(market *marketdata.Client, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(log.Writer(), "[UI] ", log.LstdFlags)
	}
	return &Builder{Market: market, Logger: logger}
}

// Build produces a single artifact for the query.
func (b *Builder) Build(ctx context.Context, query string) (Artifact, error) {
	var artifact Artifact
	err := b.BuildStages(ctx, query, func(st Stage) error {
		if st.Artifact != nil {
			artifact = *st.Artifact
		}
		return nil
	})
	return artifact, err
}

// BuildStages runs generation and emits a Stage per step. The final stage
// carries the artifact.
func (b *Builder) BuildStages(ctx context.Context, query string, emit func(Stage) error) error {
	kind := DetectKind(query)
	symbols := extractSymbols(query)
	if len(symbols) == 0 {
		return fmt.Errorf("no ticker symbol found in query")
	}
	if err := emit(Stage{Stage: "detecting", Message: fmt.Sprintf("rendering %s for %s", kind, strings.Join(symbols, ", "))}); err != nil {
		return err
	}

	var (
		artifact Artifact
		err      error
	)
	switch kind {
	case KindChart:
		artifact, err = b.buildChart(ctx, symbols[0], emit)
	case KindTable:
		artifact, err = b.buildTable(ctx, symbols, emit)
	case KindMetricGrid:
		artifact, err = b.buildGrid(ctx, symbols[0], emit)
	default:
		artifact, err = b.buildCard(ctx, symbols[0], emit)
	}
	if err != nil {
		return err
	}
	return emit(Stage{Stage: "done", Message: "artifact ready", Artifact: &artifact})
}

func (b *Builder) buildChart(ctx context.Context, symbol string, emit func(Stage) error) (Artifact, error) {
	if err := emit(Stage{Stage: "fetching", Message: fmt.Sprintf("loading %s price history", symbol)}); err != nil {
		return Artifact{}, err
	}
	bars, err := b.Market.GetHistory(ctx, symbol, 30)
	if err != nil {
		return Artifact{}, fmt.Errorf("history for %s: %w", symbol, err)
	}
	return ChartFromBars(symbol, bars), nil
}

func (b *Builder) buildCard(ctx context.Context, symbol string, emit func(Stage) error) (Artifact, error) {
	if err := emit(Stage{Stage: "fetching", Message: fmt.Sprintf("loading %s quote", symbol)}); err != nil {
		return Artifact{}, err
	}
	quote, err := b.Market.GetQuote(ctx, symbol)
	if err != nil {
		return Artifact{}, fmt.Errorf("quote for %s: %w", symbol, err)
	}
	return CardFromQuote(quote), nil
}

func (b *Builder) buildTable(ctx context.Context, symbols []string, emit func(Stage) error) (Artifact, error) {
	rows := make([][]string, 0, len(symbols))
	for _, sym := range symbols {
		if err := emit(Stage{Stage: "fetching", Message: fmt.Sprintf("loading %s quote", sym)}); err != nil {
			return Artifact{}, err
		}
		quote, err := b.Market.GetQuote(ctx, sym)
		if err != nil {
			b.Logger.Printf("quote for %s: %v", sym, err)
			continue
		}
		rows = append(rows, []string{quote.Symbol, fmt.Sprintf("%.2f", quote.Price), quote.Currency})
	}
	if len(rows) == 0 {
		return Artifact{}, fmt.Errorf("no quotes available for %s", strings.Join(symbols, ", "))
	}
	return NewTable("Comparison", []string{"Symbol", "Price", "Currency"}, rows), nil
}

func (b *Builder) buildGrid(ctx context.Context, symbol string, emit func(Stage) error) (Artifact, error) {
	if err := emit(Stage{Stage: "fetching", Message: fmt.Sprintf("loading %s price history", symbol)}); err != nil {
		return Artifact{}, err
	}
	bars, err := b.Market.GetHistory(ctx, symbol, 30)
	if err != nil {
		return Artifact{}, fmt.Errorf("history for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return Artifact{}, fmt.Errorf("no history for %s", symbol)
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	metrics := SeriesMetrics(closes)
	order := []string{"last", "change_pct", "high", "low", "volatility"}
	return GridFromMetrics(fmt.Sprintf("%s 30d metrics", symbol), metrics, order), nil
}

// SeriesMetrics computes summary statistics over a close-price series.
func SeriesMetrics(closes []float64) map[string]float64 {
	if len(closes) == 0 {
		return map[string]float64{}
	}
	first, last := closes[0], closes[len(closes)-1]
	high, low := closes[0], closes[0]
	var sum float64
	for _, c := range closes {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
		sum += c
	}
	mean := sum / float64(len(closes))
	var variance float64
	for _, c := range closes {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(closes))

	out := map[string]float64{
		"last":       last,
		"high":       high,
		"low":        low,
		"mean":       mean,
		"volatility": math.Sqrt(variance),
	}
	if first != 0 {
		out["change_pct"] = (last - first) / first * 100
	}
	return out
}

// Words that look like tickers but never are.
var symbolStopwords = map[string]bool{
	"A": true, "I": true, "VS": true, "THE": true, "AND": true, "FOR": true,
	"OF": true, "IN": true, "ON": true, "TO": true, "IS": true, "ME": true,
	"SHOW": true, "WHAT": true, "HOW": true, "PRICE": true, "CHART": true,
	"TABLE": true, "STOCK": true, "USD": true, "EUR": true,
}

// extractSymbols pulls uppercase ticker-like tokens (1-5 letters) out of the
// query, preserving order.
func extractSymbols(query string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range strings.FieldsFunc(query, func(r rune) bool {
		return !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'))
	}) {
		if len(raw) < 1 || len(raw) > 5 {
			continue
		}
		if raw != strings.ToUpper(raw) {
			continue
		}
		if symbolStopwords[raw] || seen[raw] {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
	}
	return out
}
