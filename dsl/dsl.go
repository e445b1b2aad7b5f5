// Package dsl parses and validates flow documents. Parsing accepts YAML or
// JSON (JSON is valid YAML); validation enforces the structural rules and
// produces an ExecutableFlow carrying the per-scope dependency DAGs the
// scheduler runs on.
package dsl

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/pkg/errors"
)

// Parse reads a flow file from the given path and unmarshals it.
func Parse(path string) (*model.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// ParseBytes unmarshals a YAML or JSON flow document.
func ParseBytes(data []byte) (*model.Flow, error) {
	var flow model.Flow
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return nil, errors.Validation("flow parse: %v", err)
	}
	return &flow, nil
}

// ParseString unmarshals a YAML or JSON flow document from a string.
func ParseString(s string) (*model.Flow, error) {
	return ParseBytes([]byte(s))
}

// Load reads, parses, and validates a flow file in one step.
func Load(path string) (*ExecutableFlow, error) {
	flow, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return Validate(flow)
}
