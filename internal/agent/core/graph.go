package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var graphTracer = otel.Tracer("agent/graph")

// ErrNoPending is returned when a thread has no action awaiting approval.
var ErrNoPending = errors.New("no pending action for thread")

// WaitingForApproval is embedded in answers produced while a high-risk tool
// is held for human confirmation.
const WaitingForApproval = "WAITING FOR APPROVAL"

// ThreadStore persists per-thread conversation state.
type ThreadStore interface {
	AppendThreadMessages(ctx context.Context, threadID string, msgs []ChatMessage) error
	ListThreadMessages(ctx context.Context, threadID string) ([]ChatMessage, error)
	SaveThreadCheckpoint(ctx context.Context, threadID string) (string, error)
	CountThreadCheckpoints(ctx context.Context, threadID string) (int, error)
	RewindThread(ctx context.Context, threadID string, stepsBack int) (string, error)
	SavePendingAction(ctx context.Context, pa PendingAction) error
	GetPendingAction(ctx context.Context, threadID string) (PendingAction, bool, error)
	DeletePendingAction(ctx context.Context, threadID string) error
}

// PendingStatus reports whether a thread is waiting on human approval.
type PendingStatus struct {
	ThreadID string                 `json:"thread_id"`
	Status   string                 `json:"status"` // pending_approval | no_pending
	ToolName string                 `json:"tool_name,omitempty"`
	ToolArgs map[string]interface{} `json:"tool_args,omitempty"`
}

// GraphAgent layers persistent conversation state and an
// interrupt-before-action gate over the tool-calling executor.
type GraphAgent struct {
	Store        ThreadStore
	Exec         *Executor
	Logger       *log.Logger
	SystemPrompt string
}

const defaultGraphSystemPrompt = "You are a careful financial research assistant. " +
	"Use the available tools when they help. Actions that place orders or send " +
	"email are high-risk and may be held for human approval."

func (g *GraphAgent) logger() *log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.New(log.Writer(), "[GRAPH] ", log.LstdFlags)
}

func (g *GraphAgent) systemPrompt() string {
	if g.SystemPrompt != "" {
		return g.SystemPrompt
	}
	return defaultGraphSystemPrompt
}

// Converse runs one turn for the thread. With enableHITL set, a high-risk
// tool call pauses the turn and parks the action for approval.
func (g *GraphAgent) Converse(ctx context.Context, threadID, message string, enableHITL bool) (AgentResult, error) {
	ctx, span := graphTracer.Start(ctx, "GraphAgent.Converse")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.Bool("hitl", enableHITL))

	start := time.Now()
	if threadID == "" {
		return AgentResult{}, fmt.Errorf("thread_id required")
	}
	if _, pending, err := g.Store.GetPendingAction(ctx, threadID); err != nil {
		return AgentResult{}, fmt.Errorf("pending lookup: %w", err)
	} else if pending {
		return AgentResult{}, fmt.Errorf("thread %s has an action awaiting approval", threadID)
	}

	history, err := g.Store.ListThreadMessages(ctx, threadID)
	if err != nil {
		return AgentResult{}, fmt.Errorf("load thread: %w", err)
	}

	var newMsgs []ChatMessage
	if len(history) == 0 {
		sys := ChatMessage{Role: RoleSystem, Content: g.systemPrompt()}
		history = append(history, sys)
		newMsgs = append(newMsgs, sys)
	}
	user := ChatMessage{Role: RoleUser, Content: message}
	history = append(history, user)
	newMsgs = append(newMsgs, user)

	outcome, err := g.Exec.Run(ctx, history, nil, enableHITL)
	if err != nil {
		span.RecordError(err)
		return AgentResult{}, err
	}
	newMsgs = append(newMsgs, outcome.Transcript...)

	if err := g.Store.AppendThreadMessages(ctx, threadID, newMsgs); err != nil {
		return AgentResult{}, fmt.Errorf("persist thread: %w", err)
	}
	if _, err := g.Store.SaveThreadCheckpoint(ctx, threadID); err != nil {
		return AgentResult{}, fmt.Errorf("checkpoint: %w", err)
	}

	res := AgentResult{
		ID:             uuid.NewString(),
		ThreadID:       threadID,
		Answer:         outcome.Answer,
		ToolsUsed:      outcome.ToolsUsed,
		TokensUsed:     outcome.Usage.Total(),
		CostEstimate:   outcome.Cost,
		ProcessingTime: time.Since(start),
	}

	if outcome.Pending != nil {
		args, argErr := outcome.Pending.Function.Args()
		if argErr != nil {
			args = map[string]interface{}{}
		}
		pa := PendingAction{
			ThreadID:   threadID,
			ToolName:   outcome.Pending.Function.Name,
			ToolArgs:   args,
			ToolCallID: outcome.Pending.ID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := g.Store.SavePendingAction(ctx, pa); err != nil {
			return AgentResult{}, fmt.Errorf("save pending action: %w", err)
		}
		res.PendingApproval = true
		res.PendingTool = pa.ToolName
		res.Answer = fmt.Sprintf("The assistant wants to run %s. %s. Confirm via /api/graph/approve.", pa.ToolName, WaitingForApproval)
		g.logger().Printf("thread %s paused before %s", threadID, pa.ToolName)
	}

	if count, err := g.Store.CountThreadCheckpoints(ctx, threadID); err == nil {
		res.CheckpointCount = count
	}
	return res, nil
}

// Pending reports the approval status for a thread.
func (g *GraphAgent) Pending(ctx context.Context, threadID string) (PendingStatus, error) {
	pa, ok, err := g.Store.GetPendingAction(ctx, threadID)
	if err != nil {
		return PendingStatus{}, err
	}
	if !ok {
		return PendingStatus{ThreadID: threadID, Status: "no_pending"}, nil
	}
	return PendingStatus{ThreadID: threadID, Status: "pending_approval", ToolName: pa.ToolName, ToolArgs: pa.ToolArgs}, nil
}

// Approve resolves the pending action: execute it and resume on approval,
// or cancel it without executing on rejection.
func (g *GraphAgent) Approve(ctx context.Context, threadID string, approved bool) (AgentResult, error) {
	ctx, span := graphTracer.Start(ctx, "GraphAgent.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.Bool("approved", approved))

	start := time.Now()
	pa, ok, err := g.Store.GetPendingAction(ctx, threadID)
	if err != nil {
		return AgentResult{}, err
	}
	if !ok {
		return AgentResult{}, ErrNoPending
	}

	history, err := g.Store.ListThreadMessages(ctx, threadID)
	if err != nil {
		return AgentResult{}, fmt.Errorf("load thread: %w", err)
	}

	var toolResult string
	if approved {
		tool, exists := g.Exec.Tools.Get(pa.ToolName)
		if !exists {
			return AgentResult{}, fmt.Errorf("pending tool %q no longer registered", pa.ToolName)
		}
		out, execErr := tool.Execute(ctx, pa.ToolArgs)
		if execErr != nil {
			out = fmt.Sprintf("error: %v", execErr)
		}
		toolResult = out
		g.logger().Printf("thread %s approved %s", threadID, pa.ToolName)
	} else {
		toolResult = fmt.Sprintf("Action %s was rejected by the user. The tool was NOT executed.", pa.ToolName)
		g.logger().Printf("thread %s rejected %s", threadID, pa.ToolName)
	}

	resultMsg := ChatMessage{Role: RoleTool, ToolCallID: pa.ToolCallID, Name: pa.ToolName, Content: toolResult}
	history = append(history, resultMsg)
	newMsgs := []ChatMessage{resultMsg}

	outcome, err := g.Exec.Run(ctx, history, nil, false)
	if err != nil {
		span.RecordError(err)
		return AgentResult{}, err
	}
	newMsgs = append(newMsgs, outcome.Transcript...)

	if err := g.Store.AppendThreadMessages(ctx, threadID, newMsgs); err != nil {
		return AgentResult{}, fmt.Errorf("persist thread: %w", err)
	}
	if err := g.Store.DeletePendingAction(ctx, threadID); err != nil {
		return AgentResult{}, fmt.Errorf("clear pending action: %w", err)
	}
	if _, err := g.Store.SaveThreadCheckpoint(ctx, threadID); err != nil {
		return AgentResult{}, fmt.Errorf("checkpoint: %w", err)
	}

	answer := outcome.Answer
	if approved {
		answer = fmt.Sprintf("Action approved. %s\n\n%s", toolResult, outcome.Answer)
	} else {
		answer = fmt.Sprintf("Action rejected: %s was NOT executed.\n\n%s", pa.ToolName, outcome.Answer)
	}

	res := AgentResult{
		ID:             uuid.NewString(),
		ThreadID:       threadID,
		Answer:         answer,
		ToolsUsed:      outcome.ToolsUsed,
		TokensUsed:     outcome.Usage.Total(),
		CostEstimate:   outcome.Cost,
		ProcessingTime: time.Since(start),
	}
	if approved {
		res.ToolsUsed = append([]string{pa.ToolName}, res.ToolsUsed...)
	}
	if count, err := g.Store.CountThreadCheckpoints(ctx, threadID); err == nil {
		res.CheckpointCount = count
	}
	return res, nil
}

// History returns the ordered messages for a thread plus its checkpoint count.
func (g *GraphAgent) History(ctx context.Context, threadID string) ([]ChatMessage, int, error) {
	msgs, err := g.Store.ListThreadMessages(ctx, threadID)
	if err != nil {
		return nil, 0, err
	}
	count, err := g.Store.CountThreadCheckpoints(ctx, threadID)
	if err != nil {
		return nil, 0, err
	}
	return msgs, count, nil
}

// Rewind drops the last stepsBack checkpoints (and the messages recorded
// after the restored one) and returns the restored checkpoint id.
func (g *GraphAgent) Rewind(ctx context.Context, threadID string, stepsBack int) (string, int, error) {
	if stepsBack <= 0 {
		return "", 0, fmt.Errorf("steps_back must be positive")
	}
	id, err := g.Store.RewindThread(ctx, threadID, stepsBack)
	if err != nil {
		return "", 0, err
	}
	count, err := g.Store.CountThreadCheckpoints(ctx, threadID)
	if err != nil {
		return "", 0, err
	}
	return id, count, nil
}
