package provider

import "encoding/json"

// completionSuffixes are tried in order by completeToolArguments, per §4.B
// "Streaming-JSON tool arguments".
var completionSuffixes = []string{"}", "}}", "}}}", "]", "]}", "\"}", "\"]"}

// completeToolArguments attempts to parse partial as a JSON object. If it
// doesn't parse as-is, it tries appending each of completionSuffixes in
// turn and returns the first completion that parses as a JSON object. If
// none parse, it returns an empty JSON object, never a partial string.
func completeToolArguments(partial string) json.RawMessage {
	if isValidJSONObject(partial) {
		return json.RawMessage(partial)
	}
	for _, suffix := range completionSuffixes {
		candidate := partial + suffix
		if isValidJSONObject(candidate) {
			return json.RawMessage(candidate)
		}
	}
	return json.RawMessage("{}")
}

func isValidJSONObject(s string) bool {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}
