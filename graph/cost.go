package graph

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing is one model's per-million-token input/output rate in USD.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing seeds CostTracker with the published rates for the
// models the anthropic/openai/google adapters actually target. Unlisted
// models cost nothing (RecordLLMCall still records token counts); callers
// running a different model should call SetCustomPricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                 {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-2024-08-06":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":            {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4-turbo-2024-04-09": {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":          {InputPer1M: 0.50, OutputPer1M: 1.50},

	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	"gemini-1.5-pro":      {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-pro-001":  {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":    {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":      {InputPer1M: 0.50, OutputPer1M: 1.50},
}

// LLMCall is one recorded agent-tool-loop model invocation (spec.md §4.4),
// attributed to the node that made it.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates LLM spend across one execution's agent tool loops.
// The agent tool loop (agentloop.go's recordCost) calls RecordLLMCall after
// every Chat call a node makes; Engine.Run reads GetTotalCost into
// ExecutionResponse.CostUSD once the run reaches a terminal state, so a
// caller never has to reach into the tracker directly for the common case.
type CostTracker struct {
	RunID    string
	Currency string
	Pricing  map[string]ModelPricing

	Calls      []LLMCall
	TotalCost  float64
	ModelCosts map[string]float64

	InputTokens  int64
	OutputTokens int64

	CreatedAt time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker creates a tracker seeded with defaultModelPricing.
func NewCostTracker(runID, currency string) *CostTracker {
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    defaultModelPricing,
		Calls:      make([]LLMCall, 0, 16),
		ModelCosts: make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// RecordLLMCall prices one Chat call's token usage and folds it into the
// running totals. An unrecognized model records with zero cost rather than
// failing, since token accounting should never block the agent loop.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) error {
	if !ct.enabled {
		return nil
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing, ok := ct.Pricing[model]
	if !ok {
		pricing = ModelPricing{}
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	totalCost := inputCost + outputCost

	ct.Calls = append(ct.Calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      totalCost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})

	ct.TotalCost += totalCost
	ct.ModelCosts[model] += totalCost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)

	return nil
}

// GetTotalCost returns the cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.TotalCost
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.ModelCosts))
	for model, cost := range ct.ModelCosts {
		costs[model] = cost
	}
	return costs
}

// GetCallHistory returns a copy of every recorded call, in call order.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]LLMCall, len(ct.Calls))
	copy(calls, ct.Calls)
	return calls
}

// GetTokenUsage returns the cumulative input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.InputTokens, ct.OutputTokens
}

// SetCustomPricing overrides (or adds) a model's per-1M-token rates, for
// enterprise pricing or a model not in defaultModelPricing.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops further recording without clearing what's already accumulated.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording after Disable.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded calls and totals, preserving pricing configuration.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.Calls = make([]LLMCall, 0, 16)
	ct.TotalCost = 0
	ct.ModelCosts = make(map[string]float64)
	ct.InputTokens = 0
	ct.OutputTokens = 0
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID, len(ct.Calls), ct.TotalCost, ct.Currency, ct.InputTokens, ct.OutputTokens,
	)
}
