package ui

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/finsight-ai/finsight/tools/marketdata"
)

func TestDetectKind(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"show me AAPL price history", KindChart},
		{"TSLA trend this month", KindChart},
		{"compare AAPL vs MSFT", KindTable},
		{"key metrics for NVDA", KindMetricGrid},
		{"what is AAPL trading at", KindCard},
		{"GOOG quote", KindCard},
	}
	for _, c := range cases {
		if got := DetectKind(c.query); got != c.want {
			t.Fatalf("DetectKind(%q) = %s, want %s", c.query, got, c.want)
		}
	}
}

func TestExtractSymbols(t *testing.T) {
	got := extractSymbols("compare AAPL vs MSFT for me")
	want := []string{"AAPL", "MSFT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("extractSymbols = %v, want %v", got, want)
	}
	if syms := extractSymbols("show me the price"); len(syms) != 0 {
		t.Fatalf("expected no symbols, got %v", syms)
	}
}

func TestChartFromBars(t *testing.T) {
	bars := []marketdata.Bar{
		{Date: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), Close: 210.5},
		{Date: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), Close: 212.0},
	}
	a := ChartFromBars("AAPL", bars)
	if a.Kind != KindChart || a.Chart == nil {
		t.Fatalf("expected chart artifact, got %+v", a)
	}
	if a.Chart.Type != "line" || len(a.Chart.Labels) != 2 {
		t.Fatalf("unexpected chart: %+v", a.Chart)
	}
	if a.Chart.Labels[0] != "2026-08-20" || a.Chart.Labels[1] != "2026-08-21" {
		t.Fatalf("unexpected labels: %v", a.Chart.Labels)
	}
	if a.Chart.Series[0].Data[1] != 212.0 {
		t.Fatalf("unexpected series: %+v", a.Chart.Series)
	}
}

func TestSeriesMetrics(t *testing.T) {
	m := SeriesMetrics([]float64{100, 110, 105})
	if m["last"] != 105 || m["high"] != 110 || m["low"] != 100 {
		t.Fatalf("unexpected metrics: %v", m)
	}
	if math.Abs(m["change_pct"]-5.0) > 1e-9 {
		t.Fatalf("expected 5%% change, got %f", m["change_pct"])
	}
}

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"AAPL","currency":"USD","regularMarketPrice":210.5},"timestamp":[1755648000,1755734400],"indicators":{"quote":[{"close":[208.1,210.5]}]}}],"error":null}}`

func TestBuilderStagesCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	b := NewBuilder(marketdata.NewClient(srv.URL, 5*time.Second), nil)
	var stages []Stage
	err := b.BuildStages(context.Background(), "what is AAPL trading at", func(st Stage) error {
		stages = append(stages, st)
		return nil
	})
	if err != nil {
		t.Fatalf("BuildStages: %v", err)
	}
	if len(stages) < 3 {
		t.Fatalf("expected at least 3 stages, got %d", len(stages))
	}
	last := stages[len(stages)-1]
	if last.Stage != "done" || last.Artifact == nil {
		t.Fatalf("expected final artifact stage, got %+v", last)
	}
	if last.Artifact.Kind != KindCard || last.Artifact.Card.Value != "210.50 USD" {
		t.Fatalf("unexpected artifact: %+v", last.Artifact)
	}
}

func TestBuilderNoSymbol(t *testing.T) {
	b := NewBuilder(marketdata.NewClient("http://localhost:1", time.Second), nil)
	if _, err := b.Build(context.Background(), "show me the price"); err == nil {
		t.Fatal("expected error when no symbol present")
	}
}
