package streams

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// SchemaRegistry validates payloads against the order event schemas. Schema
// files are named <event type>.<payload version>.json.
type SchemaRegistry struct {
	schemas map[string]*jsonschema.Schema
}

func schemaKey(eventType, version string) string { return eventType + "@" + version }

// NewOrderRegistry compiles the embedded order schemas.
func NewOrderRegistry() (*SchemaRegistry, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	reg := &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		dot := strings.LastIndex(name, ".")
		if dot <= 0 {
			return nil, fmt.Errorf("schema file %q is not <type>.<version>.json", e.Name())
		}
		raw, err := schemaFiles.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		url := "mem://schemas/" + e.Name()
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", e.Name(), err)
		}
		reg.schemas[schemaKey(name[:dot], name[dot+1:])] = compiled
	}
	return reg, nil
}

// Validate checks payload against the schema of eventType at version.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	schema, ok := r.schemas[schemaKey(eventType, version)]
	if !ok {
		return fmt.Errorf("no schema for %s %s", eventType, version)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", eventType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s payload invalid: %w", eventType, err)
	}
	return nil
}
