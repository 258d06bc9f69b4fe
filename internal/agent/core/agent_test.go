package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// scriptedLLM plays back canned chat replies and router completions.
type scriptedLLM struct {
	chats   []ChatMessage
	gens    []string
	chatIdx int
	genIdx  int
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []ChatMessage, model string, tools []ToolSpec, options map[string]interface{}) (ChatMessage, Usage, error) {
	if s.chatIdx >= len(s.chats) {
		return ChatMessage{}, Usage{}, fmt.Errorf("no scripted chat reply %d", s.chatIdx)
	}
	reply := s.chats[s.chatIdx]
	s.chatIdx++
	return reply, Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	if s.genIdx >= len(s.gens) {
		return "", fmt.Errorf("no scripted completion %d", s.genIdx)
	}
	out := s.gens[s.genIdx]
	s.genIdx++
	return out, nil
}

func (s *scriptedLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (s *scriptedLLM) GetAvailableModels() []string { return []string{"test-model"} }
func (s *scriptedLLM) GetModelInfo(model string) (ModelInfo, error) {
	return ModelInfo{Name: model}, nil
}
func (s *scriptedLLM) CalculateCost(in, out int64, model string) float64 { return 0.001 }

// testTool is a canned tool for executor tests.
type testTool struct {
	name     string
	highRisk bool
	output   string
	err      error
	calls    int
}

func (t *testTool) Name() string        { return t.name }
func (t *testTool) Description() string { return "test tool" }
func (t *testTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *testTool) HighRisk() bool { return t.highRisk }
func (t *testTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	t.calls++
	return t.output, t.err
}

func toolCallReply(name, args string) ChatMessage {
	return ChatMessage{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call-1", Type: "function", Function: FunctionCall{Name: name, Arguments: args}},
		},
	}
}

func TestExecutorAnswersWithoutTools(t *testing.T) {
	llm := &scriptedLLM{chats: []ChatMessage{{Role: RoleAssistant, Content: "hello"}}}
	exec := &Executor{LLM: llm, Tools: NewRegistry(), Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Answer != "hello" {
		t.Fatalf("expected answer %q, got %q", "hello", out.Answer)
	}
	if out.Usage.Total() != 15 {
		t.Fatalf("expected 15 tokens, got %d", out.Usage.Total())
	}
}

func TestExecutorRunsToolThenAnswers(t *testing.T) {
	tool := &testTool{name: "get_time", output: "12:00 UTC"}
	reg := NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	llm := &scriptedLLM{chats: []ChatMessage{
		toolCallReply("get_time", `{}`),
		{Role: RoleAssistant, Content: "It is noon."},
	}}
	exec := &Executor{LLM: llm, Tools: reg, Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "time?"}}, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected 1 tool call, got %d", tool.calls)
	}
	if out.Answer != "It is noon." {
		t.Fatalf("unexpected answer %q", out.Answer)
	}
	if len(out.ToolsUsed) != 1 || out.ToolsUsed[0] != "get_time" {
		t.Fatalf("unexpected tools used: %v", out.ToolsUsed)
	}
	// Transcript: assistant tool call, tool result, final assistant answer.
	if len(out.Transcript) != 3 {
		t.Fatalf("expected 3 transcript messages, got %d", len(out.Transcript))
	}
	if out.Transcript[1].Role != RoleTool || out.Transcript[1].Content != "12:00 UTC" {
		t.Fatalf("unexpected tool result message: %+v", out.Transcript[1])
	}
}

func TestExecutorGatesHighRiskTool(t *testing.T) {
	tool := &testTool{name: "buy_stock", highRisk: true, output: "executed"}
	reg := NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	llm := &scriptedLLM{chats: []ChatMessage{
		toolCallReply("buy_stock", `{"symbol":"AAPL","quantity":5}`),
	}}
	exec := &Executor{LLM: llm, Tools: reg, Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "buy"}}, nil, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 0 {
		t.Fatal("gated high-risk tool must not execute")
	}
	if out.Pending == nil || out.Pending.Function.Name != "buy_stock" {
		t.Fatalf("expected pending buy_stock, got %+v", out.Pending)
	}
}

func TestExecutorGateAnswersSiblingToolCalls(t *testing.T) {
	risky := &testTool{name: "buy_stock", highRisk: true, output: "executed"}
	benign := &testTool{name: "get_stock_price", output: "AAPL 210.50"}
	reg := NewRegistry()
	for _, tool := range []*testTool{risky, benign} {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	llm := &scriptedLLM{chats: []ChatMessage{
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call-risky", Type: "function", Function: FunctionCall{Name: "buy_stock", Arguments: `{"symbol":"AAPL","quantity":5}`}},
			{ID: "call-benign", Type: "function", Function: FunctionCall{Name: "get_stock_price", Arguments: `{"symbol":"AAPL"}`}},
		}},
	}}
	exec := &Executor{LLM: llm, Tools: reg, Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "buy and quote"}}, nil, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if risky.calls != 0 {
		t.Fatal("gated high-risk tool must not execute")
	}
	if out.Pending == nil || out.Pending.ID != "call-risky" {
		t.Fatalf("expected pending call-risky, got %+v", out.Pending)
	}
	if benign.calls != 1 {
		t.Fatalf("expected sibling tool execution, got %d calls", benign.calls)
	}

	// Every tool call except the parked one must already have a result, so
	// the resume after Approve sends a complete history upstream.
	answered := map[string]bool{}
	for _, msg := range out.Transcript {
		if msg.Role == RoleTool {
			answered[msg.ToolCallID] = true
		}
	}
	if !answered["call-benign"] {
		t.Fatalf("sibling call left unanswered: %+v", out.Transcript)
	}
	if answered["call-risky"] {
		t.Fatal("parked call must be answered by Approve, not the gate")
	}
}

func TestExecutorGateHoldsSecondHighRiskCall(t *testing.T) {
	buy := &testTool{name: "buy_stock", highRisk: true, output: "executed"}
	mail := &testTool{name: "send_email", highRisk: true, output: "sent"}
	reg := NewRegistry()
	for _, tool := range []*testTool{buy, mail} {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	llm := &scriptedLLM{chats: []ChatMessage{
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call-buy", Type: "function", Function: FunctionCall{Name: "buy_stock", Arguments: `{}`}},
			{ID: "call-mail", Type: "function", Function: FunctionCall{Name: "send_email", Arguments: `{}`}},
		}},
	}}
	exec := &Executor{LLM: llm, Tools: reg, Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "buy then email"}}, nil, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Pending == nil || out.Pending.ID != "call-buy" {
		t.Fatalf("expected pending call-buy, got %+v", out.Pending)
	}
	if buy.calls != 0 || mail.calls != 0 {
		t.Fatalf("no high-risk tool may execute, got buy=%d mail=%d", buy.calls, mail.calls)
	}
	var held *ChatMessage
	for i := range out.Transcript {
		if out.Transcript[i].ToolCallID == "call-mail" {
			held = &out.Transcript[i]
		}
	}
	if held == nil || !strings.Contains(held.Content, "requires human approval") {
		t.Fatalf("expected held result for call-mail, got %+v", out.Transcript)
	}
}

func TestExecutorUngatedRunsHighRiskTool(t *testing.T) {
	tool := &testTool{name: "buy_stock", highRisk: true, output: "BUY ORDER EXECUTED"}
	reg := NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	llm := &scriptedLLM{chats: []ChatMessage{
		toolCallReply("buy_stock", `{}`),
		{Role: RoleAssistant, Content: "done"},
	}}
	exec := &Executor{LLM: llm, Tools: reg, Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "buy"}}, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool execution, got %d calls", tool.calls)
	}
	if out.Pending != nil {
		t.Fatal("ungated run must not pause")
	}
}

func TestExecutorIterationBudget(t *testing.T) {
	tool := &testTool{name: "loop_tool", output: "again"}
	reg := NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	llm := &scriptedLLM{chats: []ChatMessage{
		toolCallReply("loop_tool", `{}`),
		toolCallReply("loop_tool", `{}`),
		{Role: RoleAssistant, Content: "best effort answer"},
	}}
	exec := &Executor{LLM: llm, Tools: reg, Model: "test-model", MaxIterations: 2}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "go"}}, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 2 {
		t.Fatalf("expected 2 tool calls, got %d", tool.calls)
	}
	if out.Answer != "best effort answer" {
		t.Fatalf("unexpected answer %q", out.Answer)
	}
}

func TestExecutorUnknownToolReported(t *testing.T) {
	llm := &scriptedLLM{chats: []ChatMessage{
		toolCallReply("no_such_tool", `{}`),
		{Role: RoleAssistant, Content: "sorry"},
	}}
	exec := &Executor{LLM: llm, Tools: NewRegistry(), Model: "test-model"}

	out, err := exec.Run(context.Background(), []ChatMessage{{Role: RoleUser, Content: "go"}}, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Transcript) < 2 || !strings.Contains(out.Transcript[1].Content, "unknown tool") {
		t.Fatalf("expected unknown-tool result, got %+v", out.Transcript)
	}
}
