package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://securedrop.schemas.local/config.schema.json"

//go:embed config.schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("config schema load failed: %w", err)
	}
	return c.Compile(schemaURL)
})

// validate checks a decoded YAML document against the config schema.
// Unknown keys and wrongly typed values are rejected.
func validate(doc any) error {
	if doc == nil {
		return nil
	}
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so the validator sees JSON value types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}
