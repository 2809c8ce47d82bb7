package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/codeready-toolchain/opsagent/pkg/tool"
)

// validateArgs checks a proposed action's arguments against a JSON Schema
// generated from the tool's required_input_keys (SPEC_FULL.md DOMAIN
// STACK: jsonschema/v6 as the Policy Engine's schema pre-check, ahead of
// the fixed decision order). A tool with no required keys always passes.
func validateArgs(t *tool.Tool, args map[string]any) error {
	if len(t.RequiredInputKeys) == 0 {
		return nil
	}

	required, _ := json.Marshal(t.RequiredInputKeys)
	schemaDoc := fmt.Sprintf(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": %s
	}`, required)

	c := jsonschema.NewCompiler()
	resourceName := "mem://tool/" + t.ID + ".json"
	if err := c.AddResource(resourceName, strings.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("building schema for tool %q: %w", t.ID, err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compiling schema for tool %q: %w", t.ID, err)
	}

	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("schema validation failed for tool %q: %w", t.ID, err)
	}
	return nil
}
