package core

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func newTestSupervisor(llm *scriptedLLM, tools ...*testTool) *Supervisor {
	reg := NewRegistry()
	for _, tool := range tools {
		_ = reg.Register(tool)
	}
	models := SupervisorModels{Supervisor: "router-model", Research: "r-model", Quant: "q-model", Writer: "w-model"}
	return NewSupervisor(llm, reg, nil, nil, models, 8, 3)
}

func TestSupervisorResearchThenWriter(t *testing.T) {
	llm := &scriptedLLM{
		gens: []string{"RESEARCH_AGENT", "WRITER_AGENT", "FINISH"},
		chats: []ChatMessage{
			{Role: RoleAssistant, Content: "AAPL reported strong earnings."},
			{Role: RoleAssistant, Content: "Apple had a strong quarter, with earnings ahead of expectations."},
		},
	}
	sup := newTestSupervisor(llm)

	res, err := sup.Run(context.Background(), "How did Apple's quarter go?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Answer, "strong quarter") {
		t.Fatalf("expected writer output as answer, got %q", res.Answer)
	}
	if !reflect.DeepEqual(res.AgentsUsed, []string{"research", "writer"}) {
		t.Fatalf("unexpected agents used: %v", res.AgentsUsed)
	}
	if res.TokensUsed != 30 {
		t.Fatalf("expected 30 tokens across 2 worker calls, got %d", res.TokensUsed)
	}
}

func TestSupervisorQuantPath(t *testing.T) {
	tool := &testTool{name: "get_stock_price", output: `{"symbol":"AAPL","price":210.5}`}
	llm := &scriptedLLM{
		gens: []string{"QUANT_AGENT", "FINISH"},
		chats: []ChatMessage{
			toolCallReply("get_stock_price", `{"symbol":"AAPL"}`),
			{Role: RoleAssistant, Content: "AAPL trades at $210.50."},
		},
	}
	sup := newTestSupervisor(llm, tool)

	res, err := sup.Run(context.Background(), "AAPL price")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected quant worker to call the tool, got %d", tool.calls)
	}
	if res.Answer != "AAPL trades at $210.50." {
		t.Fatalf("unexpected answer: %q", res.Answer)
	}
	if len(res.ToolsUsed) != 1 || res.ToolsUsed[0] != "get_stock_price" {
		t.Fatalf("unexpected tools used: %v", res.ToolsUsed)
	}
}

func TestSupervisorRouterTokenParsing(t *testing.T) {
	llm := &scriptedLLM{
		gens: []string{"I think the next step is WRITER_AGENT.", "FINISH"},
		chats: []ChatMessage{
			{Role: RoleAssistant, Content: "Final answer."},
		},
	}
	sup := newTestSupervisor(llm)

	res, err := sup.Run(context.Background(), "write it up")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Answer != "Final answer." {
		t.Fatalf("unexpected answer: %q", res.Answer)
	}
}

func TestSupervisorUnroutableReply(t *testing.T) {
	llm := &scriptedLLM{gens: []string{"let me think about it"}}
	sup := newTestSupervisor(llm)

	if _, err := sup.Run(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for unroutable router reply")
	}
}

func TestSupervisorImmediateFinishErrors(t *testing.T) {
	llm := &scriptedLLM{gens: []string{"FINISH"}}
	sup := newTestSupervisor(llm)

	if _, err := sup.Run(context.Background(), "anything"); err == nil {
		t.Fatal("expected error when no worker produced output")
	}
}

func TestSupervisorHopLimit(t *testing.T) {
	// Router never finishes; the loop must stop at the hop limit.
	gens := make([]string, 0, 8)
	chats := make([]ChatMessage, 0, 8)
	for i := 0; i < 8; i++ {
		gens = append(gens, "RESEARCH_AGENT")
		chats = append(chats, ChatMessage{Role: RoleAssistant, Content: "more notes"})
	}
	llm := &scriptedLLM{gens: gens, chats: chats}
	sup := newTestSupervisor(llm)
	sup.MaxHops = 3

	res, err := sup.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.AgentsUsed) != 3 {
		t.Fatalf("expected 3 hops, got %d", len(res.AgentsUsed))
	}
	if res.Answer != "more notes" {
		t.Fatalf("expected last worker output, got %q", res.Answer)
	}
}
