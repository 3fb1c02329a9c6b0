package httpapi

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaCreateEntry   = "create_entry.json"
	schemaUpdateEntry   = "update_entry.json"
	schemaToggleSubItem = "toggle_sub_item.json"
)

const schemaBaseURL = "https://relayfeed.dev/schemas/"

type bodySchemas map[string]*jsonschema.Schema

func loadSchemas() (bodySchemas, error) {
	compiler := jsonschema.NewCompiler()
	names := []string{schemaCreateEntry, schemaUpdateEntry, schemaToggleSubItem}
	for _, name := range names {
		raw, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := bodySchemas{}
	for _, name := range names {
		compiled, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = compiled
	}
	return out, nil
}

// validate checks body against the named schema. A body that is not JSON at
// all is reported the same way as one that violates the schema.
func (b bodySchemas) validate(name string, body []byte) error {
	schema, ok := b[name]
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return schema.Validate(inst)
}
