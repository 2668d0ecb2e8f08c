package graph

import "sort"

// MergeRule names how a single state property's concurrent deltas are combined into
// the accumulated state. The zero value is Replace.
type MergeRule int

const (
	// Replace keeps the value produced by the writer with the highest super-step
	// ordinality (last writer wins). This is the default for any property not
	// otherwise declared in the state schema.
	Replace MergeRule = iota

	// MergeObject shallow-merges the delta's keys into the previous object's keys,
	// with the delta's keys winning on conflict.
	MergeObject

	// AppendList concatenates the delta list onto the previous list.
	AppendList

	// MergeMap replaces values per key across maps; unlike MergeObject this is
	// intended for properties typed as map[string]any where every top-level key is
	// itself an independent record.
	MergeMap
)

// Reserved state property names maintained by the runtime itself.
const (
	PropThreadID      = "thread_id"
	PropPlanConfirmed = "plan_confirmed"
	PropStep          = "__step__"
)

// State is the dynamic, schema-conforming mapping that flows through a compiled
// graph. The engine treats it opaquely apart from the per-property merge rules
// declared in the owning StateSchema (spec.md §9, "Dynamic state shape").
type State map[string]any

// Clone returns a shallow copy of the state suitable for handing to a node as an
// immutable snapshot. Nodes never observe or mutate the engine's live state map.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value for key, and false if the key is absent — the shape the
// router predicate language's state.get(key, default) shim relies on.
func (s State) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// GetOr returns the value for key, or def if absent.
func (s State) GetOr(key string, def any) any {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}

// namedDelta pairs a delta with the node that produced it, so the merger can apply
// merge rules deterministically regardless of completion order.
type namedDelta struct {
	nodeID string
	delta  State
}

// Merger combines concurrent per-node state deltas into the accumulated state under
// the per-property merge rules declared by a StateSchema. A Merger is stateless and
// safe for concurrent use.
type Merger struct {
	schema *StateSchema
}

// NewMerger creates a Merger bound to the given schema. A nil schema merges every
// property under the default Replace rule.
func NewMerger(schema *StateSchema) *Merger {
	return &Merger{schema: schema}
}

// Merge applies all of the given deltas to prev, in deterministic lexicographic
// order by node ID (spec.md §4.3 step c), and returns the resulting state. This is
// the law Testable Property 1 depends on: for a fixed set of deltas and a fixed
// prior state, the result never depends on the order the deltas were produced in,
// only on the node IDs that produced them.
func (m *Merger) Merge(prev State, deltas []namedDelta) State {
	ordered := make([]namedDelta, len(deltas))
	copy(ordered, deltas)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].nodeID < ordered[j].nodeID })

	result := prev.Clone()
	for _, nd := range ordered {
		for key, val := range nd.delta {
			_, hadPrev := result[key]
			result[key] = m.mergeValue(key, result[key], val, hadPrev)
		}
	}
	return result
}

// mergeValue merges a single property's previous value with an incoming delta
// value under the rule declared for that property (Replace if undeclared).
func (m *Merger) mergeValue(key string, prev, next any, hadPrev bool) any {
	switch m.ruleFor(key) {
	case MergeObject, MergeMap:
		return mergeObject(prev, next, hadPrev)
	case AppendList:
		return appendList(prev, next, hadPrev)
	default: // Replace
		return next
	}
}

func (m *Merger) ruleFor(key string) MergeRule {
	if m == nil || m.schema == nil {
		return Replace
	}
	if p, ok := m.schema.Properties[key]; ok {
		return p.Merge
	}
	return Replace
}

func mergeObject(prev, next any, hadPrev bool) any {
	if !hadPrev {
		return next
	}
	prevMap, ok1 := prev.(map[string]any)
	nextMap, ok2 := next.(map[string]any)
	if !ok1 || !ok2 {
		return next
	}
	out := make(map[string]any, len(prevMap)+len(nextMap))
	for k, v := range prevMap {
		out[k] = v
	}
	for k, v := range nextMap {
		out[k] = v
	}
	return out
}

func appendList(prev, next any, hadPrev bool) any {
	if !hadPrev {
		return toSliceAny(next)
	}
	out := make([]any, 0, len(toSliceAny(prev))+len(toSliceAny(next)))
	out = append(out, toSliceAny(prev)...)
	out = append(out, toSliceAny(next)...)
	return out
}

func toSliceAny(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}
