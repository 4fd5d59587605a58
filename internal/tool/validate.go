package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError is one human-readable (path, reason) pair the core
// attaches to a synthetic error tool result on schema-invalid arguments
// (spec §9 "JSON Schema validator... returns a list of human-readable error
// messages (path + reason)").
type ValidationError struct {
	Path   string
	Reason string
}

func (e ValidationError) String() string {
	if e.Path == "" || e.Path == "/" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// ValidateArguments compiles schema (raw JSON Schema bytes) and validates
// args against it, returning every violation found. A compile failure
// (malformed schema) is itself reported as a single ValidationError rather
// than an error return, since the caller's only use for this is building a
// synthetic tool-result message.
func ValidateArguments(schema json.RawMessage, args json.RawMessage) []ValidationError {
	if len(schema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "tool-arguments.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schema)); err != nil {
		return []ValidationError{{Reason: fmt.Sprintf("invalid tool schema: %v", err)}}
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return []ValidationError{{Reason: fmt.Sprintf("invalid tool schema: %v", err)}}
	}

	var value any
	if len(args) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return []ValidationError{{Reason: fmt.Sprintf("arguments are not valid JSON: %v", err)}}
	}

	if err := compiled.Validate(value); err != nil {
		return flattenValidationError(err)
	}
	return nil
}

// flattenValidationError walks a jsonschema.ValidationError tree (which
// nests per-branch failures under anyOf/oneOf/allOf) into a flat list of
// (path, reason) pairs.
func flattenValidationError(err error) []ValidationError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []ValidationError{{Reason: err.Error()}}
	}
	var out []ValidationError
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			out = append(out, ValidationError{Path: v.InstanceLocation, Reason: v.Message})
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
