package mcpmgr

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var providerSchemas = sync.OnceValues(func() (map[TransportKind]*jsonschema.Resolved, error) {
	minTimeout := MinTimeout.Seconds()
	minLen := 1
	common := func() map[string]*jsonschema.Schema {
		return map[string]*jsonschema.Schema{
			"transportType": {Type: "string"},
			"autoApprove":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"disabled":      {Type: "boolean"},
			"timeout":       {Type: "number", Minimum: &minTimeout},
		}
	}

	stdio := &jsonschema.Schema{Type: "object", Required: []string{"command"}, Properties: common()}
	stdio.Properties["command"] = &jsonschema.Schema{Type: "string", MinLength: &minLen}
	stdio.Properties["args"] = &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
	stdio.Properties["env"] = &jsonschema.Schema{Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}}

	streamed := &jsonschema.Schema{Type: "object", Required: []string{"url"}, Properties: common()}
	streamed.Properties["url"] = &jsonschema.Schema{Type: "string", MinLength: &minLen}
	streamed.Properties["headers"] = &jsonschema.Schema{Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}}

	resolved := make(map[TransportKind]*jsonschema.Resolved, 2)
	for kind, schema := range map[TransportKind]*jsonschema.Schema{TransportStdio: stdio, TransportStreamed: streamed} {
		r, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve %s provider schema: %w", kind, err)
		}
		resolved[kind] = r
	}
	return resolved, nil
})

func validateProvider(kind TransportKind, instance map[string]any) error {
	schemas, err := providerSchemas()
	if err != nil {
		return err
	}
	return schemas[kind].Validate(instance)
}

var timeoutSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	minTimeout := MinTimeout.Seconds()
	return (&jsonschema.Schema{Type: "number", Minimum: &minTimeout}).Resolve(nil)
})

// ValidateTimeout checks a timeout in seconds against the provider schema's
// lower bound.
func ValidateTimeout(seconds float64) error {
	schema, err := timeoutSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(seconds); err != nil {
		return fmt.Errorf("mcpmgr: %w: timeout %v must be at least %v seconds: %v",
			ErrInvalidConfiguration, seconds, MinTimeout.Seconds(), err)
	}
	return nil
}
