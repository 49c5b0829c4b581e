package toolexecutor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var parameterTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

func validateToolDefinition(def ToolDefinition) error {
	switch {
	case def.Name == "":
		return errors.New("tool name cannot be empty")
	case def.Description == "":
		return errors.New("tool description cannot be empty")
	case def.Handler == nil:
		return errors.New("tool handler cannot be nil")
	}
	for _, p := range def.Parameters {
		if p.Name == "" {
			return errors.New("parameter name cannot be empty")
		}
		if p.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", p.Name)
		}
		if !parameterTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", p.Type, p.Name)
		}
	}
	return nil
}

// parametersSchema is the object schema advertised to the model. The same
// schema validates incoming arguments, so unknown keys are rejected.
func parametersSchema(def ToolDefinition) map[string]interface{} {
	props := make(map[string]interface{}, len(def.Parameters))
	var required []string
	for _, p := range def.Parameters {
		prop := map[string]interface{}{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
}
