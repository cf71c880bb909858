package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/Alejandro-Adrian/HireRankerAI/config.schema.json"

var schemaOnce = sync.OnceValues(func() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:              "yaml",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := r.Reflect(&Config{})
	schema.ID = schemaID
	schema.Title = "HireRanker gateway configuration"
	schema.Properties.Set(includeKey, &jsonschema.Schema{
		Description: "Files merged underneath this one",
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	})
	return json.MarshalIndent(schema, "", "  ")
})

// JSONSchema returns the JSON Schema for config files, keyed by YAML names.
// Editors can use it for completion and validation.
func JSONSchema() ([]byte, error) {
	return schemaOnce()
}
