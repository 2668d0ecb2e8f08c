package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// bracketIndex matches a "[n]" or "[*]" array index in a path segment,
// e.g. "items[0]" -> captures "0" (the segment name is not captured).
var bracketIndex = regexp.MustCompile(`\[(\d+|\*)\]`)

// ResolveMapping evaluates a node's input_mapping (spec.md §6) against state,
// producing the argument bundle handed to an AGENT node's prompt or a
// SUBGRAPH's projected child input. Each selector is a JSONPath-like string
// starting with "$.", with property chaining, indexed access, a "*" wildcard
// over arrays (for JOIN aggregation), and an "|| <literal>" default.
func ResolveMapping(mapping map[string]string, state State) (map[string]any, error) {
	if len(mapping) == 0 {
		return map[string]any{}, nil
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state for mapping resolution: %w", err)
	}

	result := make(map[string]any, len(mapping))
	for argName, selector := range mapping {
		value, err := resolveSelector(stateJSON, selector)
		if err != nil {
			return nil, fmt.Errorf("resolve mapping %q=%q: %w", argName, selector, err)
		}
		result[argName] = value
	}
	return result, nil
}

// resolveSelector resolves one "$.path || default" selector against
// JSON-encoded state.
func resolveSelector(stateJSON []byte, selector string) (any, error) {
	path, defaultLiteral, hasDefault := splitDefault(selector)

	gjsonPath, err := toGJSONPath(path)
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(stateJSON, gjsonPath)
	if !result.Exists() {
		if hasDefault {
			return parseLiteral(defaultLiteral)
		}
		return nil, nil
	}
	return gjsonValueToAny(result), nil
}

// splitDefault separates a selector's path from its "|| <literal>" default
// clause, if present.
func splitDefault(selector string) (path string, defaultLiteral string, hasDefault bool) {
	idx := strings.Index(selector, "||")
	if idx < 0 {
		return strings.TrimSpace(selector), "", false
	}
	return strings.TrimSpace(selector[:idx]), strings.TrimSpace(selector[idx+2:]), true
}

// toGJSONPath rewrites the spec's "$.foo.bar[0]" / "$.items.*" selector
// syntax into gjson's native dot-path form: the leading "$." is stripped,
// "[n]" indices become ".n", and a "*" wildcard segment becomes gjson's "#"
// multi-value collector.
func toGJSONPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "$.") && trimmed != "$" {
		return "", fmt.Errorf("selector must start with \"$.\", got %q", path)
	}
	trimmed = strings.TrimPrefix(trimmed, "$")
	trimmed = strings.TrimPrefix(trimmed, ".")

	trimmed = bracketIndex.ReplaceAllString(trimmed, ".$1")
	trimmed = strings.ReplaceAll(trimmed, "..", ".")

	segments := strings.Split(trimmed, ".")
	for i, seg := range segments {
		if seg == "*" {
			segments[i] = "#"
		}
	}
	return strings.Join(segments, "."), nil
}

// parseLiteral interprets a default clause's literal text as JSON (numbers,
// booleans, strings, null, arrays, objects). A bare unquoted token that isn't
// valid JSON (e.g. an unquoted word) is treated as a plain string.
func parseLiteral(literal string) (any, error) {
	if literal == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(literal), &v); err == nil {
		return v, nil
	}
	return literal, nil
}

// gjsonValueToAny converts a gjson.Result into the plain any a merge rule or
// prompt renderer expects, unmarshalling through encoding/json so numeric,
// object, and array shapes match the rest of State's JSON-native
// representation.
func gjsonValueToAny(result gjson.Result) any {
	var v any
	if err := json.Unmarshal([]byte(result.Raw), &v); err != nil {
		return result.Value()
	}
	return v
}
