package server

import (
	"github.com/finsight-ai/finsight/internal/agent/core"
	"github.com/finsight-ai/finsight/internal/ui"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// ChatRequest is the request body for the plain chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// ChatResponse is the plain chat reply.
type ChatResponse struct {
	Response   string  `json:"response"`
	Model      string  `json:"model"`
	TokensUsed int64   `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// AgentRequest drives the single-agent tool loop.
type AgentRequest struct {
	Message string `json:"message"`
	// WithArtifact asks for a UI artifact alongside the answer.
	WithArtifact bool `json:"with_artifact,omitempty"`
}

// AgentResponse is an agent result plus an optional UI artifact.
type AgentResponse struct {
	core.AgentResult
	Artifact *ui.Artifact `json:"artifact,omitempty"`
}

// GraphRequest is one stateful conversation turn.
type GraphRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
	// EnableHITL overrides the server default when present.
	EnableHITL *bool `json:"enable_hitl,omitempty"`
}

// ApproveRequest resolves a pending high-risk action.
type ApproveRequest struct {
	ThreadID string `json:"thread_id"`
	Approved bool   `json:"approved"`
}

// RewindRequest rolls a thread back N checkpoints.
type RewindRequest struct {
	ThreadID  string `json:"thread_id"`
	StepsBack int    `json:"steps_back"`
}

type HistoryResponse struct {
	ThreadID        string             `json:"thread_id"`
	Messages        []core.ChatMessage `json:"messages"`
	CheckpointCount int                `json:"checkpoint_count"`
}

type RewindResponse struct {
	ThreadID        string `json:"thread_id"`
	RestoredTo      string `json:"restored_to"`
	CheckpointCount int    `json:"checkpoint_count"`
}

// MultiAgentRequest runs the supervisor path.
type MultiAgentRequest struct {
	Message string `json:"message"`
	// WithArtifact asks for a UI artifact alongside the answer.
	WithArtifact bool `json:"with_artifact,omitempty"`
}

// UIRequest asks for a generated artifact.
type UIRequest struct {
	Query string `json:"query"`
}

// FlushResponse reports how many cache entries were removed.
type FlushResponse struct {
	Flushed int64 `json:"flushed"`
}
