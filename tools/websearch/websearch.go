package websearch

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher discovers web results for a query.
type Searcher interface {
	Discover(ctx context.Context, q string, k int) ([]Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// New builds a Searcher for the given provider and API key.
func New(provider Provider, apiKey string, timeout time.Duration) (Searcher, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpc := &http.Client{Timeout: timeout}
	switch provider {
	case SerperProvider:
		return &Serper{APIKey: apiKey, HTTP: httpc}, nil
	case BraveProvider:
		return &Brave{APIKey: apiKey, HTTP: httpc}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

func clampK(k int) int {
	if k <= 0 || k > 50 {
		return 10
	}
	return k
}
