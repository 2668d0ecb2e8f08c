package graph

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/PIliev24/agent-orchestrator/graph/emit"
	"github.com/PIliev24/agent-orchestrator/graph/model"
)

// defaultMaxIterations is MAX_ITERATIONS from spec.md §4.4 when an AGENT node
// does not override it.
const defaultMaxIterations = 10

// AgentLoopConfig binds everything one AGENT node's tool loop needs for a
// single invocation: the model to drive, the tools it may call, and the
// budgets that bound it (spec.md §4.4).
type AgentLoopConfig struct {
	SystemPrompt string
	Model        model.ChatModel
	ModelName    string // for cost attribution only; Model is already bound to a provider+model

	Tools []ToolBinding

	MaxIterations int // 0 uses defaultMaxIterations
	OnBudget      OnBudgetPolicy

	OutputSchema *jsonschema.Schema // non-nil enables structured-output mode

	PerCallTimeout time.Duration // per-tool-call layer (spec.md §5)

	CostTracker *CostTracker // optional
	NodeID      string       // for cost/event attribution

	Emitter   emit.Emitter // optional; tool_call/tool_result events (spec.md §4.7)
	RunID     string
	StepIndex int
}

// AgentLoopResult is what a completed (non-errored) tool loop produces.
type AgentLoopResult struct {
	Text             string
	StructuredOutput any
	Transcript       []model.Message
	Iterations       int
	BudgetExhausted  bool // true only when OnBudget == OnBudgetReturnPartial and the cap was hit
}

// RunAgentLoop drives cfg.Model through bounded tool-call iterations until a
// terminal response, the iteration cap, or cancellation (spec.md §4.4). Tool
// calls within one iteration run concurrently when every called tool declared
// SideEffectFree; otherwise they run sequentially in the order the model
// emitted them, and the recorded transcript always reflects emission order
// regardless of which execution strategy ran (spec.md §5 "within one agent
// tool loop, messages observe strict sequential order").
func RunAgentLoop(ctx context.Context, cfg AgentLoopConfig, input map[string]any) (AgentLoopResult, error) {
	max := cfg.MaxIterations
	if max <= 0 {
		max = defaultMaxIterations
	}

	toolsByName := make(map[string]ToolBinding, len(cfg.Tools))
	specs := make([]model.ToolSpec, 0, len(cfg.Tools))
	for _, b := range cfg.Tools {
		toolsByName[b.Def.Name] = b
		specs = append(specs, model.ToolSpec{Name: b.Def.Name, Schema: b.Def.Schema})
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return AgentLoopResult{}, &EngineError{Kind: ErrProvider, Message: "marshal agent input bundle: " + err.Error(), NodeID: cfg.NodeID, Cause: err}
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: cfg.SystemPrompt},
		{Role: model.RoleUser, Content: string(inputJSON)},
	}

	retriedSchemaFailure := false

	for i := 1; i <= max; i++ {
		if err := ctx.Err(); err != nil {
			return AgentLoopResult{}, &EngineError{Kind: ErrCancelled, Message: "agent loop cancelled", NodeID: cfg.NodeID, Cause: err}
		}

		out, err := cfg.Model.Chat(ctx, messages, specs)
		if err != nil {
			return AgentLoopResult{}, &EngineError{Kind: ErrProvider, Message: err.Error(), NodeID: cfg.NodeID, Cause: err}
		}
		recordCost(cfg, out)

		if len(out.ToolCalls) == 0 {
			if cfg.OutputSchema == nil {
				messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
				return AgentLoopResult{Text: out.Text, Transcript: messages, Iterations: i}, nil
			}

			structured, verr := validateStructuredOutput(cfg.OutputSchema, out.Text)
			if verr == nil {
				messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
				return AgentLoopResult{Text: out.Text, StructuredOutput: structured, Transcript: messages, Iterations: i}, nil
			}
			if retriedSchemaFailure {
				return AgentLoopResult{}, &EngineError{Kind: ErrSchemaValidation, Message: verr.Error(), NodeID: cfg.NodeID, Cause: verr}
			}
			retriedSchemaFailure = true
			messages = append(messages,
				model.Message{Role: model.RoleAssistant, Content: out.Text},
				model.Message{Role: model.RoleUser, Content: fmt.Sprintf("Your response did not validate against the required schema: %v. Respond again with valid JSON matching the schema.", verr)},
			)
			continue
		}

		calls := assignCallIDs(out.ToolCalls)
		assistantMsg := model.Message{Role: model.RoleAssistant, Content: out.Text, ToolCalls: calls}
		messages = append(messages, assistantMsg)

		results := executeToolCalls(ctx, cfg, toolsByName, calls)
		for _, r := range results {
			messages = append(messages, r)
		}
	}

	if cfg.OnBudget == OnBudgetReturnPartial {
		return AgentLoopResult{Transcript: messages, Iterations: max, BudgetExhausted: true}, nil
	}
	return AgentLoopResult{}, &EngineError{Kind: ErrToolLoopBudgetExhausted, Message: fmt.Sprintf("agent loop did not terminate within %d iterations", max), NodeID: cfg.NodeID}
}

// assignCallIDs fills in an ID for any tool call the model didn't tag one,
// so its result message can be correlated via ToolCallID even against
// providers whose adapter doesn't assign one.
func assignCallIDs(calls []model.ToolCall) []model.ToolCall {
	out := make([]model.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		out[i] = c
	}
	return out
}

// allSideEffectFree reports whether every called tool declared
// side_effect_free: true, the condition under which spec.md §4.4 permits
// concurrent execution within one iteration.
func allSideEffectFree(toolsByName map[string]ToolBinding, calls []model.ToolCall) bool {
	for _, c := range calls {
		b, ok := toolsByName[c.Name]
		if !ok || !b.Def.SideEffectFree {
			return false
		}
	}
	return true
}

// executeToolCalls runs calls either concurrently (all pure-by-declaration) or
// sequentially in emission order, but always returns result messages in
// emission order so the recorded transcript never depends on which execution
// strategy ran.
func executeToolCalls(ctx context.Context, cfg AgentLoopConfig, toolsByName map[string]ToolBinding, calls []model.ToolCall) []model.Message {
	results := make([]model.Message, len(calls))

	invokeOne := func(idx int, call model.ToolCall) {
		emitToolCall(cfg, call)
		binding, ok := toolsByName[call.Name]
		var rec ToolInvocationResult
		if !ok {
			rec = ToolInvocationResult{
				ToolID: call.Name,
				Err:    &ToolInvocationError{Kind: ToolErrUnavailable, ToolID: call.Name, Detail: fmt.Sprintf("no tool bound to name %q for this node", call.Name)},
			}
		} else {
			deadline := time.Time{}
			if cfg.PerCallTimeout > 0 {
				deadline = invocationClock().Add(cfg.PerCallTimeout)
			}
			rec = Invoke(ctx, binding, call.Input, deadline)
		}
		emitToolResult(cfg, call, rec)
		results[idx] = toolResultMessage(call, rec)
	}

	if allSideEffectFree(toolsByName, calls) && len(calls) > 1 {
		done := make(chan struct{}, len(calls))
		for idx, call := range calls {
			go func(idx int, call model.ToolCall) {
				defer func() { done <- struct{}{} }()
				invokeOne(idx, call)
			}(idx, call)
		}
		for range calls {
			<-done
		}
		return results
	}

	for idx, call := range calls {
		invokeOne(idx, call)
	}
	return results
}

// toolResultMessage formats a tool invocation's outcome as the structured
// result message the next iteration's Chat call observes (spec.md §4.4 step
// 2c: a schema-validation failure is appended as a structured error, not
// raised as a loop error).
func toolResultMessage(call model.ToolCall, rec ToolInvocationResult) model.Message {
	payload := map[string]any{}
	if rec.Err != nil {
		payload["error"] = map[string]any{"kind": string(rec.Err.Kind), "detail": rec.Err.Detail}
	} else {
		payload["result"] = rec.Result
	}
	body, _ := json.Marshal(payload)
	return model.Message{Role: model.RoleTool, Name: call.Name, ToolCallID: call.ID, Content: string(body)}
}

// validateStructuredOutput parses text as JSON and validates it against
// schema for an AGENT node configured with output_schema (spec.md §4.4
// "Structured-output mode").
func validateStructuredOutput(schema *jsonschema.Schema, text string) (any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// recordCost attributes one Chat call's token usage to cfg's CostTracker.
// The anthropic/openai/google adapters populate ChatOut.Usage from their
// provider's own response; a ChatModel that doesn't report usage (the mock,
// or a future provider wrapper) yields a zero Usage, so cost falls back to a
// rough rune-based estimate rather than silently recording zero.
func recordCost(cfg AgentLoopConfig, out model.ChatOut) {
	if cfg.CostTracker == nil || cfg.ModelName == "" {
		return
	}
	inputTokens, outputTokens := out.Usage.InputTokens, out.Usage.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		outputTokens = len([]rune(out.Text))/4 + 1
	}
	_ = cfg.CostTracker.RecordLLMCall(cfg.ModelName, inputTokens, outputTokens, cfg.NodeID)
}

// emitToolCall and emitToolResult publish the tool_call/tool_result events
// spec.md §4.7 requires around every AGENT-node tool invocation. Arguments
// are digested rather than included verbatim, matching the
// "arguments_digest" field the spec names for the live SSE stream.
func emitToolCall(cfg AgentLoopConfig, call model.ToolCall) {
	if cfg.Emitter == nil {
		return
	}
	cfg.Emitter.Emit(emit.Event{
		RunID:  cfg.RunID,
		Step:   cfg.StepIndex,
		NodeID: cfg.NodeID,
		Msg:    "tool_call",
		Meta:   map[string]interface{}{"tool_id": call.Name, "arguments_digest": digestArguments(call.Input)},
	})
}

func emitToolResult(cfg AgentLoopConfig, call model.ToolCall, rec ToolInvocationResult) {
	if cfg.Emitter == nil {
		return
	}
	meta := map[string]interface{}{"tool_id": call.Name, "duration_ms": rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()}
	if rec.Err != nil {
		meta["error"] = string(rec.Err.Kind)
	}
	cfg.Emitter.Emit(emit.Event{RunID: cfg.RunID, Step: cfg.StepIndex, NodeID: cfg.NodeID, Msg: "tool_result", Meta: meta})
}

// digestArguments produces a short, stable stand-in for a tool call's
// arguments so SSE subscribers get a correlation token without the full
// (possibly sensitive) payload going out over the live stream.
func digestArguments(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)[:16]
}

// sortedToolNames returns the bound tools' names in sorted order.
func sortedToolNames(tools []ToolBinding) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Def.Name)
	}
	sort.Strings(names)
	return names
}
