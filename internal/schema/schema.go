// Package schema compiles a tool's JSON Schema (spec.md §3's "Schema"
// field of the Tool Definition) into a closure matching
// registry.Def.Validate's signature, so each well-known tool's input
// validation runs through a real JSON Schema validator rather than
// hand-rolled field checks. Grounded on spec.md §4.D step 2 ("validate
// input against the tool's schema") and wired against the
// santhosh-tekuri/jsonschema/v5 dependency the pack carries for exactly
// this purpose.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentcore/core/internal/registry"
)

// Compile compiles schema (a JSON-Schema-shaped map, as stored on
// registry.Def.Schema) under a synthetic resource name and returns a
// Validate closure. The same schema is compiled once at tool
// registration time and reused for every invocation.
func Compile(toolName string, schemaDoc map[string]any) (func(input map[string]any) []registry.Violation, error) {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal %s schema: %w", toolName, err)
	}

	resourceURL := "mem://" + toolName + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema: add resource for %s: %w", toolName, err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", toolName, err)
	}

	return func(input map[string]any) []registry.Violation {
		if err := compiled.Validate(input); err != nil {
			return violationsFromError(err)
		}
		return nil
	}, nil
}

// violationsFromError converts a jsonschema.ValidationError into a single
// Violation carrying its instance location and message; jsonschema
// already joins nested causes into Error()'s text, so one Violation is
// enough for the harness's error envelope.
func violationsFromError(err error) []registry.Violation {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []registry.Violation{{Message: err.Error()}}
	}
	field := ve.InstanceLocation
	return []registry.Violation{{Field: field, Message: ve.Error()}}
}
