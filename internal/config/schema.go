package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema reflects the Config tree into a JSON Schema, for editor
// completion of config files (`subagentctl schema`). Reflection keys off
// the yaml tags so the schema matches what the loader actually decodes.
// Computed once; Config is frozen at init.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag: "yaml",
		}
		schemaJSON, schemaErr = json.MarshalIndent(r.Reflect(&Config{}), "", "  ")
	})
	return schemaJSON, schemaErr
}
