package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/agent/telemetry"
)

// DefaultMaxToolIterations bounds the tool-calling loop.
const DefaultMaxToolIterations = 6

// Executor runs a one-shot tool-calling loop: the model decides, tools run,
// the model summarizes.
type Executor struct {
	LLM           LLMProvider
	Tools         *Registry
	Telemetry     *telemetry.Telemetry
	Logger        *log.Logger
	Model         string
	MaxIterations int
}

// RunOutcome is the result of one executor loop.
type RunOutcome struct {
	// Transcript holds the messages appended beyond the supplied history
	// (assistant turns and tool results), in order.
	Transcript []ChatMessage
	Answer     string
	ToolsUsed  []string
	Usage      Usage
	Cost       float64

	// Pending is set instead of executing when a high-risk tool was gated.
	Pending *ToolCall
}

func (e *Executor) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
}

func (e *Executor) maxIterations() int {
	if e.MaxIterations > 0 {
		return e.MaxIterations
	}
	return DefaultMaxToolIterations
}

// Run drives the loop until the model answers without tool calls, the
// iteration budget runs out, or (when gated) a high-risk tool is requested.
// The supplied history is not mutated.
func (e *Executor) Run(ctx context.Context, history []ChatMessage, toolNames []string, gated bool) (RunOutcome, error) {
	start := time.Now()
	outcome := RunOutcome{}
	specs := e.Tools.Specs(toolNames...)

	messages := make([]ChatMessage, len(history))
	copy(messages, history)

	record := func(success bool, errMsg string) {
		if e.Telemetry == nil {
			return
		}
		e.Telemetry.RecordAgentEvent(ctx, telemetry.AgentEvent{
			ID:         uuid.NewString(),
			AgentType:  "executor",
			StartTime:  start,
			EndTime:    time.Now(),
			Duration:   time.Since(start),
			Success:    success,
			Error:      errMsg,
			Cost:       outcome.Cost,
			TokensUsed: outcome.Usage.Total(),
			ModelUsed:  e.Model,
		})
	}

	for iter := 0; iter < e.maxIterations(); iter++ {
		reply, usage, err := e.LLM.Chat(ctx, messages, e.Model, specs, nil)
		if err != nil {
			record(false, err.Error())
			return outcome, fmt.Errorf("chat: %w", err)
		}
		outcome.Usage.PromptTokens += usage.PromptTokens
		outcome.Usage.CompletionTokens += usage.CompletionTokens
		outcome.Cost += e.LLM.CalculateCost(usage.PromptTokens, usage.CompletionTokens, e.Model)

		messages = append(messages, reply)
		outcome.Transcript = append(outcome.Transcript, reply)

		if len(reply.ToolCalls) == 0 {
			outcome.Answer = reply.Content
			record(true, "")
			return outcome, nil
		}

		// Gate before executing anything. The first high-risk call is parked
		// for approval; every sibling call still has to be answered so the
		// assistant tool_calls message never goes back upstream with a result
		// missing.
		if gated {
			for i := range reply.ToolCalls {
				call := reply.ToolCalls[i]
				if tool, ok := e.Tools.Get(call.Function.Name); ok && tool.HighRisk() {
					c := call
					outcome.Pending = &c
					break
				}
			}
		}

		for _, call := range reply.ToolCalls {
			if outcome.Pending != nil && call.ID == outcome.Pending.ID {
				// Answered later, by Approve.
				continue
			}

			tool, ok := e.Tools.Get(call.Function.Name)
			if !ok {
				result := ChatMessage{Role: RoleTool, ToolCallID: call.ID, Name: call.Function.Name,
					Content: fmt.Sprintf("error: unknown tool %q", call.Function.Name)}
				messages = append(messages, result)
				outcome.Transcript = append(outcome.Transcript, result)
				continue
			}

			if gated && tool.HighRisk() {
				result := ChatMessage{Role: RoleTool, ToolCallID: call.ID, Name: tool.Name(),
					Content: fmt.Sprintf("%s requires human approval and was not executed", tool.Name())}
				messages = append(messages, result)
				outcome.Transcript = append(outcome.Transcript, result)
				continue
			}

			args, err := call.Function.Args()
			if err != nil {
				result := ChatMessage{Role: RoleTool, ToolCallID: call.ID, Name: call.Function.Name,
					Content: fmt.Sprintf("error: bad arguments: %v", err)}
				messages = append(messages, result)
				outcome.Transcript = append(outcome.Transcript, result)
				continue
			}

			toolStart := time.Now()
			output, err := tool.Execute(ctx, args)
			if e.Telemetry != nil {
				e.Telemetry.RecordToolEvent(ctx, telemetry.ToolEvent{
					ID:        uuid.NewString(),
					Tool:      tool.Name(),
					StartTime: toolStart,
					EndTime:   time.Now(),
					Duration:  time.Since(toolStart),
					Success:   err == nil,
					Error:     errString(err),
				})
			}
			if err != nil {
				e.logger().Printf("tool %s failed: %v", tool.Name(), err)
				output = fmt.Sprintf("error: %v", err)
			}
			outcome.ToolsUsed = append(outcome.ToolsUsed, tool.Name())

			result := ChatMessage{Role: RoleTool, ToolCallID: call.ID, Name: tool.Name(), Content: output}
			messages = append(messages, result)
			outcome.Transcript = append(outcome.Transcript, result)
		}

		if outcome.Pending != nil {
			record(true, "")
			return outcome, nil
		}
	}

	// Iteration budget exhausted: ask for a final answer without tools.
	reply, usage, err := e.LLM.Chat(ctx, messages, e.Model, nil, nil)
	if err != nil {
		record(false, err.Error())
		return outcome, fmt.Errorf("final chat: %w", err)
	}
	outcome.Usage.PromptTokens += usage.PromptTokens
	outcome.Usage.CompletionTokens += usage.CompletionTokens
	outcome.Cost += e.LLM.CalculateCost(usage.PromptTokens, usage.CompletionTokens, e.Model)
	outcome.Transcript = append(outcome.Transcript, reply)
	outcome.Answer = reply.Content
	record(true, "")
	return outcome, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
