package core

import (
	"context"
	"encoding/json"
	"time"
)

// Message roles used on the chat completions wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args decodes the JSON arguments into a map.
func (f FunctionCall) Args() (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if f.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ToolSpec describes a tool on the wire (JSON-schema parameters).
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage is token accounting for one LLM call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

func (u Usage) Total() int64 { return u.PromptTokens + u.CompletionTokens }

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string
	Provider        string
	MaxTokens       int
	CostPer1KInput  float64
	CostPer1KOutput float64
	Capabilities    []string
	Description     string
}

// LLMProvider abstracts the hosted model API: chat (with or without tools)
// and embeddings.
type LLMProvider interface {
	// Generate produces a plain completion for a single prompt.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// Chat sends a full message history plus optional tool specs and returns
	// the assistant message (which may request tool calls) with token usage.
	Chat(ctx context.Context, messages []ChatMessage, model string, tools []ToolSpec, options map[string]interface{}) (ChatMessage, Usage, error)

	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	GetAvailableModels() []string
	GetModelInfo(model string) (ModelInfo, error)
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// Tool is an executable capability offered to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
	// HighRisk marks tools that require human approval before execution.
	HighRisk() bool
}

// AgentResult is the outcome of one agent invocation.
type AgentResult struct {
	ID             string        `json:"id"`
	Answer         string        `json:"answer"`
	ToolsUsed      []string      `json:"tools_used,omitempty"`
	AgentsUsed     []string      `json:"agents_used,omitempty"`
	TokensUsed     int64         `json:"tokens_used"`
	CostEstimate   float64       `json:"cost_estimate"`
	ProcessingTime time.Duration `json:"processing_time"`

	// Graph-agent fields.
	ThreadID        string `json:"thread_id,omitempty"`
	PendingApproval bool   `json:"pending_approval,omitempty"`
	PendingTool     string `json:"pending_tool,omitempty"`
	CheckpointCount int    `json:"checkpoint_count,omitempty"`

	// Cache fields.
	Cached     bool    `json:"cached,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// PendingAction is a high-risk tool call held for human approval.
type PendingAction struct {
	ThreadID   string
	ToolName   string
	ToolArgs   map[string]interface{}
	ToolCallID string
	CreatedAt  time.Time
}
