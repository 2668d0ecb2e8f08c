package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PIliev24/agent-orchestrator/graph/emit"
	"github.com/PIliev24/agent-orchestrator/graph/model"
)

// ModelResolver binds an AGENT node's declared ModelConfig to a concrete
// model.ChatModel. Provider wiring (API keys, client construction) is out of
// this package's scope (spec.md §1); callers supply their own resolver.
type ModelResolver interface {
	Resolve(cfg ModelConfig) (model.ChatModel, error)
}

// StaticModelResolver is the simplest ModelResolver: a fixed table of
// provider/model name to ChatModel, built once at startup. It is sufficient
// for single-deployment setups and for tests wired against model.MockChatModel.
type StaticModelResolver map[string]model.ChatModel

// modelResolverKey is the StaticModelResolver lookup key for one ModelConfig.
func modelResolverKey(provider, modelName string) string {
	return provider + "/" + modelName
}

// Bind registers chatModel under provider/modelName, for convenient setup.
func (r StaticModelResolver) Bind(provider, modelName string, chatModel model.ChatModel) {
	r[modelResolverKey(provider, modelName)] = chatModel
}

func (r StaticModelResolver) Resolve(cfg ModelConfig) (model.ChatModel, error) {
	if m, ok := r[modelResolverKey(cfg.Provider, cfg.ModelName)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no model bound for provider %q model %q", cfg.Provider, cfg.ModelName)
}

// Options configures an Engine's runtime behavior (spec.md §5). The zero
// value is usable: every field has a sensible "unbounded"/disabled default.
type Options struct {
	// MaxConcurrentNodes bounds how many nodes execute at once within a
	// single super-step. 0 means unbounded.
	MaxConcurrentNodes int

	// QueueDepth bounds the frontier's buffered capacity (spec.md §5
	// "System MUST implement backpressure"). 0 uses a generous default.
	QueueDepth int

	// BackpressureTimeout bounds how long Enqueue blocks once the frontier
	// is at capacity before the run fails with ErrExecutionTimeout. 0 means
	// block indefinitely (subject to ctx cancellation).
	BackpressureTimeout time.Duration

	// DefaultNodeTimeout is the per-node timeout applied when a node's own
	// NodePolicy doesn't override it. 0 means unlimited.
	DefaultNodeTimeout time.Duration

	// PerToolCallTimeout bounds each individual tool invocation inside an
	// AGENT node's tool loop (spec.md §5's nested timeout model).
	PerToolCallTimeout time.Duration

	// RunWallClockBudget bounds one Run call's total wall-clock time. 0
	// means unlimited.
	RunWallClockBudget time.Duration

	// MaxSteps bounds the number of super-steps a single Run call will
	// execute, guarding against a compiled-but-non-terminating workflow
	// (e.g. a router whose condition never becomes false under the state
	// the loop actually produces). 0 means unbounded.
	MaxSteps int

	Metrics     *PrometheusMetrics
	CostTracker *CostTracker
}

// Option mutates an Options during Engine construction.
type Option func(*Options) error

func WithMaxConcurrentNodes(n int) Option {
	return func(o *Options) error { o.MaxConcurrentNodes = n; return nil }
}

func WithQueueDepth(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("queue depth must be positive, got %d", n)
		}
		o.QueueDepth = n
		return nil
	}
}

func WithBackpressureTimeout(d time.Duration) Option {
	return func(o *Options) error { o.BackpressureTimeout = d; return nil }
}

func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *Options) error { o.DefaultNodeTimeout = d; return nil }
}

func WithPerToolCallTimeout(d time.Duration) Option {
	return func(o *Options) error { o.PerToolCallTimeout = d; return nil }
}

func WithRunWallClockBudget(d time.Duration) Option {
	return func(o *Options) error { o.RunWallClockBudget = d; return nil }
}

func WithMaxSteps(n int) Option {
	return func(o *Options) error { o.MaxSteps = n; return nil }
}

func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *Options) error { o.Metrics = m; return nil }
}

func WithCostTracker(ct *CostTracker) Option {
	return func(o *Options) error { o.CostTracker = ct; return nil }
}

const defaultQueueDepth = 4096

// Engine is the non-generic scheduler/runtime that drives a CompiledGraph
// through super-steps to completion, suspension, or failure (spec.md §4.3).
// One Engine can run many CompiledGraphs and many concurrent executions; all
// of its collaborators (registry, checkpointer, model resolver) are expected
// to be safe for concurrent use.
type Engine struct {
	registry     *Registry
	checkpointer Checkpointer
	emitter      emit.Emitter
	models       ModelResolver
	opts         Options
}

// New builds an Engine. checkpointer may be nil, in which case Run never
// persists or resumes (suitable for fire-and-forget executions in tests).
func New(registry *Registry, checkpointer Checkpointer, emitter emit.Emitter, models ModelResolver, options ...Option) (*Engine, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	if models == nil {
		models = StaticModelResolver{}
	}

	opts := Options{}
	for _, opt := range options {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("engine option: %w", err)
		}
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}

	return &Engine{registry: registry, checkpointer: checkpointer, emitter: emitter, models: models, opts: opts}, nil
}

// ExecutionRequest starts or resumes one execution (spec.md §6 POST /executions
// and /executions/{id}/resume).
type ExecutionRequest struct {
	WorkflowID string
	ThreadID   string
	Input      State
}

// ExecutionResponse is the terminal or suspended result of a Run call
// (spec.md §3 ExecutionRecord, projected for the caller).
type ExecutionResponse struct {
	ExecutionID         string
	ThreadID            string
	Status              ExecutionStatus
	Output              State
	Error               string
	AwaitingInputReason string

	// CostUSD is the cumulative LLM spend this Run call recorded via
	// opts.CostTracker (cost.go); zero if no tracker was configured.
	CostUSD float64
}

// stepOutcome pairs one dispatched WorkItem with the CompiledNode it targeted
// and the NodeOutcome its executor produced.
type stepOutcome struct {
	Item    WorkItem
	Node    *CompiledNode
	Outcome NodeOutcome
}

// Run drives cg to completion, starting fresh or resuming from the newest
// checkpoint for req.ThreadID (spec.md §4.3, §4.6). It returns once the
// execution reaches COMPLETED, FAILED, CANCELLED, or AWAITING_INPUT.
func (e *Engine) Run(ctx context.Context, cg *CompiledGraph, req ExecutionRequest) (ExecutionResponse, error) {
	if cg == nil {
		return ExecutionResponse{}, &EngineError{Kind: ErrCompilation, Message: "Run called with a nil compiled graph"}
	}

	merger := NewMerger(&cg.StateSchema)
	execID := uuid.NewString()
	threadID := req.ThreadID

	var (
		state        State
		seedFrontier []WorkItem
		ledger       = map[string]*JoinLedgerEntry{}
		stepIndex    int
	)

	resumed := false
	if threadID != "" && e.checkpointer != nil {
		cp, err := e.checkpointer.Load(threadID)
		if err != nil {
			return ExecutionResponse{}, &EngineError{Kind: ErrCheckpoint, Message: err.Error(), Cause: err}
		}
		if cp != nil {
			resumed = true
			state = merger.Merge(cp.State, []namedDelta{{nodeID: "__resume__", delta: req.Input}})
			seedFrontier = append([]WorkItem(nil), cp.Frontier...)
			for i := range cp.PendingJoins {
				entry := cp.PendingJoins[i]
				ledger[entry.NodeID] = &entry
			}
			stepIndex = cp.StepIndex
		}
	}

	if !resumed {
		if threadID == "" {
			threadID = execID
		}
		if cg.EntryPoint == "" {
			return ExecutionResponse{}, &EngineError{Kind: ErrCompilation, Message: "compiled graph has no entry point"}
		}
		state = merger.Merge(State{}, []namedDelta{{nodeID: "__init__", delta: req.Input}})
		seedFrontier = []WorkItem{{StepID: 0, OrderKey: ComputeOrderKey(StartSentinel, 0), NodeID: cg.EntryPoint}}
	}

	e.emitWorkflow(req, execID, threadID, "execution_start", nil)

	es := &execState{
		ledger:        ledger,
		pendingDeltas: map[string]map[string]State{},
		joinAggDelta:  map[string]State{},
		predToJoins:   computePredToJoins(cg),
	}

	frontier := NewFrontier(e.opts.QueueDepth)
	for _, item := range seedFrontier {
		if item.NodeID == EndSentinel {
			continue
		}
		if err := frontier.Enqueue(ctx, item); err != nil {
			return ExecutionResponse{}, &EngineError{Kind: ErrCancelled, Message: "enqueue seed frontier: " + err.Error(), Cause: err}
		}
	}

	runStarted := time.Now()
	status := StatusRunning
	var finalErr, awaitingReason string

	for loop := 0; frontier.Len() > 0; loop++ {
		if e.opts.MaxSteps > 0 && loop >= e.opts.MaxSteps {
			status, finalErr = StatusFailed, fmt.Sprintf("execution exceeded max_steps of %d", e.opts.MaxSteps)
			break
		}
		if e.opts.RunWallClockBudget > 0 && time.Since(runStarted) > e.opts.RunWallClockBudget {
			status, finalErr = StatusFailed, (&EngineError{Kind: ErrExecutionTimeout, Message: "run exceeded wall clock budget"}).Error()
			break
		}
		if err := ctx.Err(); err != nil {
			status, finalErr = StatusCancelled, err.Error()
			break
		}

		n := frontier.Len()
		items := make([]WorkItem, 0, n)
		for i := 0; i < n; i++ {
			item, err := frontier.Dequeue(ctx)
			if err != nil {
				status, finalErr = StatusCancelled, err.Error()
				break
			}
			items = append(items, item)
		}
		if status == StatusCancelled {
			break
		}

		if e.opts.Metrics != nil {
			e.opts.Metrics.UpdateInflightNodes(len(items))
			e.opts.Metrics.UpdateQueueDepth(frontier.Len())
		}

		outcomes := e.runStep(ctx, cg, execID, threadID, stepIndex, state, items, es)

		var deltas []namedDelta
		for _, o := range outcomes {
			if o.Outcome.IsStateUpdate() {
				deltas = append(deltas, namedDelta{nodeID: o.Item.NodeID, delta: o.Outcome.Delta})
			}
		}
		detectMergeConflicts(e.opts.Metrics, execID, deltas)
		state = merger.Merge(state, deltas)
		stepIndex++
		state[PropStep] = stepIndex

		extraFrontier, joinFailure := e.updateJoinLedger(cg, es, outcomes)

		var next []WorkItem
		var suspendReason string
		var failure *stepOutcome
		for i := range outcomes {
			o := outcomes[i]
			switch {
			case o.Outcome.IsStateUpdate():
				for idx, target := range o.Outcome.NextFrontier {
					if target == EndSentinel {
						continue
					}
					next = append(next, WorkItem{
						StepID: stepIndex, OrderKey: ComputeOrderKey(o.Item.NodeID, idx),
						NodeID: target, ParentNodeID: o.Item.NodeID, EdgeIndex: idx,
					})
				}
			case o.Outcome.IsSuspend():
				suspendReason = o.Outcome.SuspendReason
				next = append(next, o.Item)
			case o.Outcome.IsFail():
				if failure == nil {
					failure = &outcomes[i]
				}
			}
		}
		next = append(next, extraFrontier...)
		if failure == nil {
			failure = joinFailure
		}

		if e.checkpointer != nil {
			if err := e.checkpointer.Save(threadID, stepIndex, state, next, ledgerValues(es.ledger)); err != nil {
				return ExecutionResponse{}, &EngineError{Kind: ErrCheckpoint, Message: err.Error(), Cause: err}
			}
			for _, o := range outcomes {
				_ = e.checkpointer.AppendStep(ExecutionStep{
					ExecutionID: execID, StepIndex: stepIndex, NodeID: o.Item.NodeID,
					OutputStateDelta: o.Outcome.Delta, Error: o.Outcome.ErrDetail,
				})
			}
		}

		if failure != nil {
			status = StatusFailed
			finalErr = (&EngineError{Kind: failure.Outcome.ErrKind, Message: failure.Outcome.ErrDetail, NodeID: failure.Item.NodeID}).Error()
			break
		}
		if suspendReason != "" {
			status = StatusAwaitingInput
			awaitingReason = suspendReason
			break
		}

		for _, item := range next {
			if err := e.enqueueWithBackpressure(ctx, execID, frontier, item); err != nil {
				status, finalErr = StatusFailed, err.Error()
				break
			}
		}
		if status == StatusFailed {
			break
		}
	}

	if status == StatusRunning {
		status = StatusCompleted
	}

	e.emitWorkflow(req, execID, threadID, statusEventName(status), map[string]any{"status": string(status)})

	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementExecutions(string(status))
	}

	var costUSD float64
	if e.opts.CostTracker != nil {
		costUSD = e.opts.CostTracker.GetTotalCost()
	}

	return ExecutionResponse{
		ExecutionID:         execID,
		ThreadID:            threadID,
		Status:              status,
		Output:              state,
		Error:               finalErr,
		AwaitingInputReason: awaitingReason,
		CostUSD:             costUSD,
	}, nil
}

// enqueueWithBackpressure enqueues item, bounding the wait by
// opts.BackpressureTimeout when set (spec.md §5 backpressure).
func (e *Engine) enqueueWithBackpressure(ctx context.Context, execID string, frontier *Frontier, item WorkItem) error {
	enqueueCtx := ctx
	if e.opts.BackpressureTimeout > 0 {
		var cancel context.CancelFunc
		enqueueCtx, cancel = context.WithTimeout(ctx, e.opts.BackpressureTimeout)
		defer cancel()
	}
	if err := frontier.Enqueue(enqueueCtx, item); err != nil {
		if e.opts.Metrics != nil {
			e.opts.Metrics.IncrementBackpressure(execID, "queue_full")
		}
		return &EngineError{Kind: ErrExecutionTimeout, Message: "frontier backpressure timeout exceeded", Cause: ErrBackpressureTimeout}
	}
	return nil
}

// runStep executes every item concurrently, bounded by MaxConcurrentNodes.
func (e *Engine) runStep(ctx context.Context, cg *CompiledGraph, execID, threadID string, stepIndex int, state State, items []WorkItem, es *execState) []stepOutcome {
	outcomes := make([]stepOutcome, len(items))
	limit := e.opts.MaxConcurrentNodes
	if limit <= 0 {
		limit = len(items)
		if limit == 0 {
			limit = 1
		}
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		node, ok := cg.Nodes[item.NodeID]
		if !ok {
			outcomes[i] = stepOutcome{Item: item, Outcome: FailOutcome(ErrCompilation, fmt.Sprintf("node %q not found in compiled graph", item.NodeID), false)}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item WorkItem, node *CompiledNode) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = stepOutcome{Item: item, Node: node, Outcome: e.runNode(ctx, execID, threadID, stepIndex, state, node, es)}
		}(i, item, node)
	}
	wg.Wait()
	return outcomes
}

// runNode wraps one node's dispatch with retry, per-node timeout, metrics,
// and node_start/node_complete/node_error events.
func (e *Engine) runNode(ctx context.Context, execID, threadID string, stepIndex int, state State, node *CompiledNode, es *execState) NodeOutcome {
	rt := &runContext{engine: e, runID: execID, threadID: threadID, stepIndex: stepIndex, exec: es}
	e.emitNode(execID, stepIndex, node.Spec.ID, "node_start", nil)

	if node.AwaitInputCond != nil {
		matched, err := node.AwaitInputCond.Eval(state)
		if err != nil {
			outcome := FailOutcome(ErrCompilation, fmt.Sprintf("await_input evaluation: %v", err), false)
			e.emitNode(execID, stepIndex, node.Spec.ID, "node_error", map[string]any{"error_kind": string(outcome.ErrKind), "detail": outcome.ErrDetail})
			return outcome
		}
		if matched {
			reason := node.Spec.AwaitInputReason
			if reason == "" {
				reason = fmt.Sprintf("node %q is awaiting input", node.Spec.ID)
			}
			e.emitNode(execID, stepIndex, node.Spec.ID, "node_complete", map[string]any{"suspended": true})
			return SuspendOutcome(reason)
		}
	}

	started := time.Now()
	var policy *NodePolicy
	maxAttempts := 1
	var rp *RetryPolicy
	if node.Spec.Policy != nil {
		policy = node.Spec.Policy
		if policy.RetryPolicy != nil && policy.RetryPolicy.Validate() == nil {
			rp = policy.RetryPolicy
			maxAttempts = rp.MaxAttempts
		}
	}

	var outcome NodeOutcome
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome = runWithTimeout(ctx, node.Spec.ID, policy, e.opts.DefaultNodeTimeout, func(tctx context.Context) NodeOutcome {
			return dispatch(node.Spec.Kind)(tctx, rt, node, state)
		})
		if !outcome.IsFail() || !outcome.Retryable || rp == nil {
			break
		}
		if e.opts.Metrics != nil {
			e.opts.Metrics.IncrementRetries(execID, node.Spec.ID, "error")
		}
		if attempt+1 < maxAttempts && rp.BaseDelay > 0 {
			time.Sleep(computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay, nil))
		}
	}

	if e.opts.Metrics != nil {
		status := "success"
		if outcome.IsFail() {
			status = "error"
		}
		e.opts.Metrics.RecordStepLatency(execID, node.Spec.ID, time.Since(started), status)
	}

	if outcome.IsFail() {
		e.emitNode(execID, stepIndex, node.Spec.ID, "node_error", map[string]any{"error_kind": string(outcome.ErrKind), "detail": outcome.ErrDetail})
	} else {
		e.emitNode(execID, stepIndex, node.Spec.ID, "node_complete", nil)
	}
	return outcome
}

// updateJoinLedger records this step's completions against every JOIN node
// that declares them as a wait_for predecessor, then fires any join whose
// ledger just became ready: aggregating its delta (enqueued for the next
// super-step) or, on a failing predecessor set, producing its Fail outcome
// directly (spec.md §4.2 JOIN, §4.3 step d).
func (e *Engine) updateJoinLedger(cg *CompiledGraph, es *execState, outcomes []stepOutcome) ([]WorkItem, *stepOutcome) {
	for _, o := range outcomes {
		joins := es.predToJoins[o.Item.NodeID]
		for _, joinID := range joins {
			entry, ok := es.ledger[joinID]
			if !ok {
				entry = NewJoinLedgerEntry(joinID)
				es.ledger[joinID] = entry
			}
			entry.MarkCompleted(o.Item.NodeID, o.Outcome.IsFail())

			if es.pendingDeltas[joinID] == nil {
				es.pendingDeltas[joinID] = map[string]State{}
			}
			if o.Outcome.IsStateUpdate() {
				es.pendingDeltas[joinID][o.Item.NodeID] = o.Outcome.Delta
			} else {
				es.pendingDeltas[joinID][o.Item.NodeID] = State{}
			}
		}
	}

	var extra []WorkItem
	var failures []stepOutcome
	var joinIDs []string
	for id := range es.ledger {
		joinIDs = append(joinIDs, id)
	}
	sort.Strings(joinIDs)

	for _, joinID := range joinIDs {
		if _, fired := es.joinAggDelta[joinID]; fired {
			continue
		}
		joinNode, ok := cg.Nodes[joinID]
		if !ok {
			continue
		}
		entry := es.ledger[joinID]
		if !entry.IsReady(joinNode.Spec.WaitFor) {
			continue
		}

		if entry.ShouldFail(joinNode.Spec.OnFailure, joinNode.Spec.WaitFor) {
			es.joinAggDelta[joinID] = State{}
			failures = append(failures, stepOutcome{
				Item: WorkItem{NodeID: joinID}, Node: joinNode,
				Outcome: FailOutcome(ErrProvider, fmt.Sprintf("join %q: predecessors failed: %v", joinID, failedPredecessors(entry, joinNode.Spec.WaitFor)), false),
			})
			continue
		}

		delta, err := Aggregate(joinNode.Spec.Aggregation, joinNode.Spec.AggField, es.pendingDeltas[joinID])
		if err != nil {
			es.joinAggDelta[joinID] = State{}
			failures = append(failures, stepOutcome{
				Item: WorkItem{NodeID: joinID}, Node: joinNode,
				Outcome: FailOutcome(ErrCompilation, err.Error(), false),
			})
			continue
		}
		es.joinAggDelta[joinID] = delta
		extra = append(extra, WorkItem{NodeID: joinID, OrderKey: ComputeOrderKey(joinID, 0)})
	}

	sort.Slice(extra, func(i, j int) bool { return extra[i].OrderKey < extra[j].OrderKey })

	var failure *stepOutcome
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Item.NodeID < failures[j].Item.NodeID })
		failure = &failures[0]
	}
	return extra, failure
}

func failedPredecessors(entry *JoinLedgerEntry, waitFor []string) []string {
	var out []string
	for _, id := range waitFor {
		if entry.Failed[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func computePredToJoins(cg *CompiledGraph) map[string][]string {
	out := map[string][]string{}
	for _, node := range cg.Nodes {
		if node.Spec.Kind != KindJoin {
			continue
		}
		for _, pred := range node.Spec.WaitFor {
			out[pred] = append(out[pred], node.Spec.ID)
		}
	}
	return out
}

func ledgerValues(ledger map[string]*JoinLedgerEntry) []JoinLedgerEntry {
	ids := make([]string, 0, len(ledger))
	for id := range ledger {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]JoinLedgerEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *ledger[id])
	}
	return out
}

// detectMergeConflicts flags when more than one node's delta in a single
// super-step wrote the same state key, a signal worth tracking even though
// the Merger's deterministic ordering always resolves it the same way
// (spec.md §5 metrics, merge_conflicts_total).
func detectMergeConflicts(metrics *PrometheusMetrics, execID string, deltas []namedDelta) {
	if metrics == nil {
		return
	}
	seen := map[string]bool{}
	conflicted := map[string]bool{}
	for _, d := range deltas {
		for k := range d.delta {
			if seen[k] {
				conflicted[k] = true
			}
			seen[k] = true
		}
	}
	for range conflicted {
		metrics.IncrementMergeConflicts(execID, "concurrent_write")
	}
}

func statusEventName(status ExecutionStatus) string {
	switch status {
	case StatusCompleted:
		return "execution_complete"
	case StatusFailed:
		return "execution_failed"
	case StatusCancelled:
		return "execution_cancelled"
	case StatusAwaitingInput:
		return "execution_awaiting_input"
	default:
		return "execution_update"
	}
}

func (e *Engine) emitWorkflow(req ExecutionRequest, execID, threadID, msg string, meta map[string]any) {
	if e.emitter == nil {
		return
	}
	m := make(map[string]interface{}, len(meta)+2)
	for k, v := range meta {
		m[k] = v
	}
	m["workflow_id"] = req.WorkflowID
	m["thread_id"] = threadID
	e.emitter.Emit(emit.Event{RunID: execID, Msg: msg, Meta: m})
}

func (e *Engine) emitNode(execID string, step int, nodeID, msg string, meta map[string]any) {
	if e.emitter == nil {
		return
	}
	m := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	e.emitter.Emit(emit.Event{RunID: execID, Step: step, NodeID: nodeID, Msg: msg, Meta: m})
}

// emitRoutingDecision publishes the routing_decision event a ROUTER node
// produces when one of its conditions matches (spec.md §4.7).
func (rt *runContext) emitRoutingDecision(nodeID, target, condition string) {
	if rt.engine == nil || rt.engine.emitter == nil {
		return
	}
	rt.engine.emitter.Emit(emit.Event{
		RunID: rt.runID, Step: rt.stepIndex, NodeID: nodeID, Msg: "routing_decision",
		Meta: map[string]interface{}{"target": target, "condition": condition},
	})
}
