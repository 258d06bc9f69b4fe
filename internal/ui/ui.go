package ui

import (
	"fmt"
	"strings"

	"github.com/finsight-ai/finsight/tools/marketdata"
)

// Artifact kinds understood by the demo frontend.
const (
	KindChart      = "chart"
	KindTable      = "table"
	KindCard       = "card"
	KindMetricGrid = "metric_grid"
)

// Artifact is a renderable UI payload attached to agent responses. Exactly
// one of the kind-specific fields is set.
type Artifact struct {
	Kind  string      `json:"kind"`
	Title string      `json:"title,omitempty"`
	Chart *Chart      `json:"chart,omitempty"`
	Table *Table      `json:"table,omitempty"`
	Card  *Card       `json:"card,omitempty"`
	Grid  *MetricGrid `json:"metric_grid,omitempty"`
}

type Chart struct {
	Type   string   `json:"type"` // line | bar
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

type Series struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

type Card struct {
	Value string `json:"value"`
	Delta string `json:"delta,omitempty"`
}

type MetricGrid struct {
	Metrics []Metric `json:"metrics"`
}

type Metric struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func NewLineChart(title string, labels []string, series ...Series) Artifact {
	return Artifact{Kind: KindChart, Title: title, Chart: &Chart{Type: "line", Labels: labels, Series: series}}
}

func NewBarChart(title string, labels []string, series ...Series) Artifact {
	return Artifact{Kind: KindChart, Title: title, Chart: &Chart{Type: "bar", Labels: labels, Series: series}}
}

func NewTable(title string, columns []string, rows [][]string) Artifact {
	return Artifact{Kind: KindTable, Title: title, Table: &Table{Columns: columns, Rows: rows}}
}

func NewCard(title, value, delta string) Artifact {
	return Artifact{Kind: KindCard, Title: title, Card: &Card{Value: value, Delta: delta}}
}

func NewMetricGrid(title string, metrics []Metric) Artifact {
	return Artifact{Kind: KindMetricGrid, Title: title, Grid: &MetricGrid{Metrics: metrics}}
}

// DetectKind maps a free-form query to the artifact kind most likely to fit
// the answer. Keyword heuristics, checked most specific first.
func DetectKind(query string) string {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, "history", "trend", "over time", "chart", "graph", "plot"):
		return KindChart
	case containsAny(q, "compare", " vs ", "versus", "table", "side by side"):
		return KindTable
	case containsAny(q, "metrics", "overview", "dashboard", "summary of"):
		return KindMetricGrid
	default:
		return KindCard
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ChartFromBars renders price history as a line chart artifact.
func ChartFromBars(symbol string, bars []marketdata.Bar) Artifact {
	labels := make([]string, len(bars))
	data := make([]float64, len(bars))
	for i, b := range bars {
		labels[i] = b.Date.Format("2006-01-02")
		data[i] = b.Close
	}
	return NewLineChart(fmt.Sprintf("%s close price", symbol), labels, Series{Name: symbol, Data: data})
}

// CardFromQuote renders a spot quote as a card artifact.
func CardFromQuote(q marketdata.Quote) Artifact {
	return NewCard(q.Symbol, fmt.Sprintf("%.2f %s", q.Price, q.Currency), "")
}

// GridFromMetrics renders computed metrics as a metric grid.
func GridFromMetrics(title string, metrics map[string]float64, order []string) Artifact {
	out := make([]Metric, 0, len(order))
	for _, name := range order {
		v, ok := metrics[name]
		if !ok {
			continue
		}
		out = append(out, Metric{Label: name, Value: fmt.Sprintf("%.4f", v)})
	}
	return NewMetricGrid(title, out)
}
