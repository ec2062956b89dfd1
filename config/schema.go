package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	jsonschemagen "github.com/swaggest/jsonschema-go"
)

const schemaURL = "mount-drives-config.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	errSchema      error
)

// Schema returns the JSON schema of the configuration file, reflected from Config.
func Schema() ([]byte, error) {
	r := jsonschemagen.Reflector{}
	s, err := r.Reflect(Config{})
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

func compile() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := Schema()
		if err != nil {
			errSchema = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			errSchema = err
			return
		}
		compiledSchema, errSchema = compiler.Compile(schemaURL)
	})
	return compiledSchema, errSchema
}

// ValidateValues checks a raw configuration document against the schema.
func ValidateValues(v Values) error {
	schema, err := compile()
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	if v == nil {
		v = Values{}
	}
	// Round trip through JSON so numbers and maps have the types the validator expects
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
