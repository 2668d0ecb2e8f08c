package graph

// NodeKind is the closed set of node executor variants (spec.md §3, §9 "Dynamic
// dispatch node kinds"). New behavior is added via tool implementations, not new
// kinds.
type NodeKind string

const (
	KindAgent    NodeKind = "AGENT"
	KindRouter   NodeKind = "ROUTER"
	KindParallel NodeKind = "PARALLEL"
	KindJoin     NodeKind = "JOIN"
	KindSubgraph NodeKind = "SUBGRAPH"
)

// Sentinel node IDs. They carry no executor behavior beyond marking entry/exit.
const (
	StartSentinel = "__start__"
	EndSentinel   = "__end__"
)

// AggregationStrategy names how a JOIN node synthesizes a final delta from its
// completed predecessors' deltas.
type AggregationStrategy string

const (
	AggMergeObject AggregationStrategy = "merge_object"
	AggAppendList  AggregationStrategy = "append_list"
)

// JoinFailurePolicy names how a JOIN node reacts to a failed predecessor.
type JoinFailurePolicy string

const (
	FailAny         JoinFailurePolicy = "any"
	FailMajority    JoinFailurePolicy = "majority"
	FailAllRequired JoinFailurePolicy = "all_required"
)

// NodeSpec is the declarative description of one graph node.
type NodeSpec struct {
	ID   string
	Kind NodeKind

	// AGENT
	AgentID      string
	ToolIDs      []string
	InputMapping map[string]string // target argument name -> "$." selector
	OutputKey    string
	SystemPrompt string
	MaxIter      int // 0 uses the agent loop's default (10)
	OnBudget     OnBudgetPolicy

	// ROUTER: edges carry the conditions; nothing extra is needed here.

	// JOIN
	WaitFor     []string
	Aggregation AggregationStrategy
	AggField    string // property the aggregation strategy applies to
	OnFailure   JoinFailurePolicy

	// SUBGRAPH
	SubgraphID      string // resolved via the same resolver used for AGENT/TOOL refs
	SubInputMapping map[string]string
	SubOutputKey    string

	// Policy applies to every kind; nil means engine defaults.
	Policy *NodePolicy

	// AwaitInput is a router-style condition, checked against state before
	// this node's own executor runs, regardless of kind. When it evaluates
	// true the node suspends the execution instead of dispatching — the
	// declarative equivalent of the teacher's human-in-the-loop gate nodes
	// that returned Stop() while a required field was still unset. Typical
	// use: an AGENT node gating on plan_confirmed until a resume supplies
	// it (spec.md §4.2 NodeOutcome.Suspend, §8 S4).
	AwaitInput string

	// AwaitInputReason is the reason string recorded on the Suspend outcome
	// when AwaitInput matches. Defaults to a generic message if empty.
	AwaitInputReason string
}

// OnBudgetPolicy controls what happens when an AGENT node's tool loop exhausts its
// iteration budget.
type OnBudgetPolicy string

const (
	OnBudgetFail         OnBudgetPolicy = ""
	OnBudgetReturnPartial OnBudgetPolicy = "return_partial"
)

// EdgeSpec connects two nodes, optionally guarded by a router condition expression.
// Ordering within Edges from the same Source matters: routers evaluate conditions
// in declaration order and the first match wins.
type EdgeSpec struct {
	SourceID  string
	TargetID  string
	Condition string // empty = unconditional; "default" = always-match fallback
}

// PropertySchema describes one property of the state object: its merge rule and an
// optional JSON Schema fragment used to validate values written to it.
type PropertySchema struct {
	Merge  MergeRule
	Schema map[string]any // raw JSON Schema fragment, compiled by Compile
}

// StateSchema is the JSON-Schema-derived description of the state object's shape
// and per-property merge rules (spec.md §3).
type StateSchema struct {
	Properties map[string]PropertySchema
}

// GraphDescription is the declarative input to the compiler (spec.md §3).
type GraphDescription struct {
	Nodes       []NodeSpec
	Edges       []EdgeSpec
	EntryPoint  string
	StateSchema StateSchema
}

// Resolver fetches agent, tool, and subgraph definitions referenced by a
// GraphDescription. The compiler treats it as an injected collaborator; this
// package does not define how agents/tools are stored (spec.md §1, out of scope).
type Resolver interface {
	ResolveAgent(agentID string) (AgentDefinition, error)
	ResolveTool(toolID string) (ToolDefinition, error)
	ResolveSubgraph(subgraphID string) (GraphDescription, error)
}

// AgentDefinition is the minimal shape the compiler needs from an agent record.
type AgentDefinition struct {
	ID           string
	SystemPrompt string
	ModelConfig  ModelConfig
	OutputSchema map[string]any // optional JSON Schema for structured output mode
}

// ModelConfig names which provider/model an AGENT node's tool loop talks to.
type ModelConfig struct {
	Provider    string
	ModelName   string
	MaxTokens   int
	Temperature float64
}

// ToolDefinition is the minimal shape the compiler needs from a tool record.
type ToolDefinition struct {
	ID             string
	Name           string
	Schema         map[string]any // JSON Schema for arguments
	SideEffectFree bool
}
