// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package lua

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema.
const SchemaID = "https://cogbot.dev/schemas/cog.schema.json"

var compiled = sync.OnceValues(compileSchema)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "CogBot Lua Cog Manifest"
	schema.Description = "Schema for cog.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("lua").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema validates YAML data against the manifest JSON Schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code("INVALID_MANIFEST").In("lua").New("manifest is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("INVALID_MANIFEST").In("lua").Wrapf(err, "invalid YAML")
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(jsonTypes(doc)); err != nil {
		return oops.Code("INVALID_MANIFEST").In("lua").Wrapf(err, "schema validation failed")
	}
	return nil
}

func compileSchema() (*jschema.Schema, error) {
	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.In("lua").Wrapf(err, "parse schema")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("cog.schema.json", doc); err != nil {
		return nil, oops.In("lua").Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile("cog.schema.json")
	if err != nil {
		return nil, oops.In("lua").Wrapf(err, "compile schema")
	}
	return sch, nil
}

// jsonTypes converts yaml.v3 output to the types the validator expects.
func jsonTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = jsonTypes(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = jsonTypes(e)
		}
		return out
	default:
		return val
	}
}
