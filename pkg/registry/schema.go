package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const cardSchemaURL = "https://verifiquant.schemas.local/registry/formula_card.schema.json"

// cardSchema describes one card file document. Inputs must be non-empty.
const cardSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "inputs", "output_var"],
  "properties": {
    "id": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
    "name": {"type": "string", "minLength": 1},
    "short_description": {"type": "string"},
    "domain": {"type": "string"},
    "topic": {"type": "string"},
    "version": {"type": "string"},
    "tolerance": {"type": "number", "exclusiveMinimum": 0},
    "tags": {"type": "array", "items": {"type": "string"}},
    "inputs": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
          "type": {"type": "string"},
          "description": {"type": "string"},
          "unit": {"type": "string"},
          "kind": {"$ref": "#/$defs/kind"},
          "range": {"$ref": "#/$defs/range"}
        }
      }
    },
    "steps": {"$ref": "#/$defs/formulas"},
    "sympy_formulas": {"$ref": "#/$defs/formulas"},
    "output_var": {"type": "string", "minLength": 1},
    "invariants": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "properties": {
          "name": {"type": "string"},
          "kind": {"enum": ["weights_sum", "balance"]},
          "variables": {"type": "array", "items": {"type": "string"}},
          "lhs": {"type": "array", "items": {"type": "string"}},
          "rhs": {"type": "array", "items": {"type": "string"}},
          "target": {"type": "number"},
          "tolerance": {"type": "number", "exclusiveMinimum": 0}
        }
      }
    }
  },
  "oneOf": [
    {"required": ["steps"]},
    {"required": ["sympy_formulas"]}
  ],
  "$defs": {
    "kind": {"enum": ["", "amount", "rate", "weight", "std_dev", "variance", "correlation", "sample_count"]},
    "range": {
      "type": "object",
      "properties": {
        "min": {"type": "number"},
        "max": {"type": "number"},
        "min_exclusive": {"type": "boolean"},
        "advisory": {"type": "boolean"}
      }
    },
    "formulas": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["variable", "formula"],
        "properties": {
          "variable": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
          "formula": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "unit": {"type": "string"},
          "kind": {"$ref": "#/$defs/kind"},
          "range": {"$ref": "#/$defs/range"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(cardSchemaURL, strings.NewReader(cardSchema)); err != nil {
			schemaErr = fmt.Errorf("card schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(cardSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("card schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded JSON document against the card schema.
func ValidateDocument(doc any) error {
	s, err := schema()
	if err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("card schema validation failed: %w", err)
	}
	return nil
}
