package graph

import (
	"reflect"
	"testing"
)

func TestResolveMapping_SimplePropertyChain(t *testing.T) {
	state := State{"plan": map[string]any{"title": "Launch"}}
	out, err := ResolveMapping(map[string]string{"title": "$.plan.title"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["title"] != "Launch" {
		t.Errorf("expected %q, got %v", "Launch", out["title"])
	}
}

func TestResolveMapping_IndexedAccess(t *testing.T) {
	state := State{"items": []any{"a", "b", "c"}}
	out, err := ResolveMapping(map[string]string{"first": "$.items[0]"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["first"] != "a" {
		t.Errorf("expected %q, got %v", "a", out["first"])
	}
}

func TestResolveMapping_WildcardAggregation(t *testing.T) {
	state := State{"results": []any{
		map[string]any{"value": float64(1)},
		map[string]any{"value": float64(2)},
	}}
	out, err := ResolveMapping(map[string]string{"values": "$.results.*.value"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := out["values"].([]any)
	if !ok {
		t.Fatalf("expected a slice, got %T: %v", out["values"], out["values"])
	}
	want := []any{float64(1), float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestResolveMapping_DefaultUsedWhenMissing(t *testing.T) {
	state := State{}
	out, err := ResolveMapping(map[string]string{"confirmed": "$.plan_confirmed || false"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["confirmed"] != false {
		t.Errorf("expected false default, got %v", out["confirmed"])
	}
}

func TestResolveMapping_DefaultIgnoredWhenPresent(t *testing.T) {
	state := State{"retries": float64(3)}
	out, err := ResolveMapping(map[string]string{"retries": "$.retries || 0"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["retries"] != float64(3) {
		t.Errorf("expected present value 3, got %v", out["retries"])
	}
}

func TestResolveMapping_StringLiteralDefault(t *testing.T) {
	state := State{}
	out, err := ResolveMapping(map[string]string{"name": `$.name || "anonymous"`}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["name"] != "anonymous" {
		t.Errorf("expected %q, got %v", "anonymous", out["name"])
	}
}

func TestResolveMapping_MissingWithoutDefaultYieldsNil(t *testing.T) {
	state := State{}
	out, err := ResolveMapping(map[string]string{"absent": "$.nope"}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["absent"] != nil {
		t.Errorf("expected nil, got %v", out["absent"])
	}
}

func TestResolveMapping_RejectsSelectorWithoutDollarPrefix(t *testing.T) {
	_, err := ResolveMapping(map[string]string{"bad": "plan.title"}, State{})
	if err == nil {
		t.Fatal("expected an error for a selector missing the \"$.\" prefix")
	}
}

func TestResolveMapping_EmptyMappingYieldsEmptyResult(t *testing.T) {
	out, err := ResolveMapping(nil, State{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected an empty result, got %v", out)
	}
}

func TestResolveMapping_MultipleTargetsResolveIndependently(t *testing.T) {
	state := State{"x": float64(2), "plan": map[string]any{"title": "Launch"}}
	out, err := ResolveMapping(map[string]string{
		"x":     "$.x",
		"title": "$.plan.title",
		"y":     "$.y || 0",
	}, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["x"] != float64(2) || out["title"] != "Launch" || out["y"] != float64(0) {
		t.Errorf("unexpected resolved bundle: %+v", out)
	}
}
