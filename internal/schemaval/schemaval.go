// Package schemaval compiles the tree and agent-output JSON Schemas once
// and validates wire bytes against them. Both the tree store and the
// executor adapter need schema conformance checks with precise
// failing-pointer errors; centralizing the jsonschema.Compiler here keeps
// that machinery in one place instead of duplicated per caller.
package schemaval

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opentree/loopctl/internal/loopctlerr"
)

//go:embed schema/*.json
var embedded embed.FS

var (
	once           sync.Once
	treeSchema     *jsonschema.Schema
	agentOutSchema *jsonschema.Schema
	compileErr     error
)

func compile() {
	c := jsonschema.NewCompiler()
	for _, name := range []string{"tree.schema.json", "agent_output.schema.json"} {
		data, err := embedded.ReadFile("schema/" + name)
		if err != nil {
			compileErr = fmt.Errorf("reading embedded %s: %w", name, err)
			return
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			compileErr = fmt.Errorf("embedded %s is not valid JSON: %w", name, err)
			return
		}
		if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
			compileErr = fmt.Errorf("adding resource %s: %w", name, err)
			return
		}
	}
	treeSchema, compileErr = c.Compile("tree.schema.json")
	if compileErr != nil {
		return
	}
	agentOutSchema, compileErr = c.Compile("agent_output.schema.json")
}

// ValidateTree validates raw tree JSON bytes against the embedded,
// versioned tree schema.
func ValidateTree(data []byte) error {
	once.Do(compile)
	if compileErr != nil {
		return fmt.Errorf("compiling schemas: %w", compileErr)
	}
	return validate(treeSchema, "tree", data)
}

// ValidateAgentOutput validates raw agent structured-output JSON bytes
// against the embedded schema.
func ValidateAgentOutput(data []byte) error {
	once.Do(compile)
	if compileErr != nil {
		return fmt.Errorf("compiling schemas: %w", compileErr)
	}
	return validate(agentOutSchema, "agent_output", data)
}

func validate(s *jsonschema.Schema, subject string, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &loopctlerr.SchemaError{Subject: subject, Err: err}
	}
	if err := s.Validate(v); err != nil {
		return &loopctlerr.SchemaError{Subject: subject, Err: err}
	}
	return nil
}
