// Package payload validates JSON documents against embedded JSON Schemas.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles its schema lazily, once.
type Validator struct {
	name   string
	source string

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

// NewValidator registers schema source under a resource name.
func NewValidator(name, source string) *Validator {
	return &Validator{name: name, source: source}
}

// Decode strictly parses raw, validates it and unmarshals it into dst.
func (v *Validator) Decode(raw []byte, dst any) error {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := v.schema()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func (v *Validator) schema() (*jsonschema.Schema, error) {
	v.compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(v.name, strings.NewReader(v.source)); err != nil {
			v.compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(v.name)
		if err != nil {
			v.compileErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		v.compiled = schema
	})

	if v.compileErr != nil {
		return nil, v.compileErr
	}
	if v.compiled == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return v.compiled, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
