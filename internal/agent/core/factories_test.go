package core

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finsight-ai/finsight/config"
)

func testProviderConfig(baseURL string) config.LLMProvider {
	return config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Models: map[string]config.LLMModel{
			"gpt-4o": {
				Name:            "gpt-4o",
				MaxTokens:       4096,
				CostPer1K:       0.005,
				CostPer1KOutput: 0.015,
			},
		},
	}
}

func TestNewLLMProviderRejectsUnknownType(t *testing.T) {
	_, err := NewLLMProvider(config.LLMConfig{
		Providers: map[string]config.LLMProvider{"x": {Type: "anthropic"}},
	})
	if err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
	_, err = NewLLMProvider(config.LLMConfig{})
	if err == nil {
		t.Fatal("expected error for empty provider config")
	}
}

func TestOpenAIChatSendsToolsAndParsesUsage(t *testing.T) {
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": "AAPL is up today."}},
			},
			"usage": map[string]int64{"prompt_tokens": 42, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testProviderConfig(srv.URL))
	msg, usage, err := p.Chat(context.Background(),
		[]ChatMessage{{Role: RoleUser, Content: "How is AAPL doing?"}},
		"gpt-4o",
		[]ToolSpec{{Name: "get_stock_price", Description: "Quote lookup"}},
		nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg.Content != "AAPL is up today." {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	if usage.PromptTokens != 42 || usage.CompletionTokens != 7 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	tools, ok := gotReq["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("tools not forwarded: %v", gotReq["tools"])
	}
}

func TestOpenAIChatUnknownModel(t *testing.T) {
	p := NewOpenAIProvider(testProviderConfig("http://localhost:0"))
	if _, _, err := p.Chat(context.Background(), nil, "gpt-unknown", nil, nil); err == nil {
		t.Fatal("expected error for unconfigured model")
	}
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0},
				{"embedding": []float32{0.4, 0.5, 0.6}, "index": 1},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(testProviderConfig(srv.URL))
	vecs, err := p.Embed(context.Background(), []string{"price of AAPL", "price of MSFT"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
}

func TestCalculateCost(t *testing.T) {
	p := NewOpenAIProvider(testProviderConfig(""))
	got := p.CalculateCost(1000, 1000, "gpt-4o")
	if math.Abs(got-0.02) > 1e-9 {
		t.Fatalf("expected 0.02, got %f", got)
	}
	if p.CalculateCost(1000, 1000, "nope") != 0 {
		t.Fatalf("unknown model should cost 0")
	}
}
