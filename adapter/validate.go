package adapter

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/awantoch/beemflow/pkg/errors"
	"github.com/awantoch/beemflow/registry"
)

// ValidateParams checks rendered step parameters against the adapter's
// declared JSON Schema. Adapters without a schema accept anything. Failures
// are ValidationErrors and are never retried.
func ValidateParams(m *registry.ToolManifest, inputs map[string]any) error {
	if m == nil || m.Parameters == nil {
		return nil
	}
	raw, err := json.Marshal(m.Parameters)
	if err != nil {
		return errors.Validation("tool %s: marshal parameter schema: %v", m.Name, err)
	}
	schema, err := jsonschema.CompileString(m.Name+".parameters.json", string(raw))
	if err != nil {
		return errors.Validation("tool %s: compile parameter schema: %v", m.Name, err)
	}
	doc, err := normalize(stripReserved(inputs))
	if err != nil {
		return errors.Validation("tool %s: marshal parameters: %v", m.Name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return errors.Validation("tool %s: invalid parameters: %v", m.Name, err)
	}
	return nil
}

func stripReserved(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if k == UseKey || k == ContextKey {
			continue
		}
		out[k] = v
	}
	return out
}

// normalize round-trips through JSON so typed Go values (ints, structs)
// validate the same as values parsed from a document.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
