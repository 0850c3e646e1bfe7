package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dvloznov/finsight/internal/domain"
)

// TransactionJSONSchema is the contract every extracted item must satisfy.
// Category and type are matched leniently after validation, so they are
// only required to be strings here.
func TransactionJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"description": map[string]any{"type": "string", "minLength": 1},
			"amount": map[string]any{
				"oneOf": []any{
					map[string]any{"type": "number"},
					map[string]any{"type": "string", "pattern": `^-?\d+(\.\d+)?$`},
				},
			},
			"type":     map[string]any{"type": "string", "minLength": 1},
			"category": map[string]any{"type": "string"},
		},
		"required": []string{"date", "description", "amount", "type"},
	}
}

// ResponseJSONSchema describes the whole response object. Providers that
// support structured output send it with the request.
func ResponseJSONSchema() map[string]any {
	item := TransactionJSONSchema()
	props := item["properties"].(map[string]any)
	props["amount"] = map[string]any{"type": "number"}
	props["type"] = map[string]any{"type": "string", "enum": []string{string(domain.TypeDebit), string(domain.TypeCredit)}}
	props["category"] = map[string]any{"type": "string", "enum": domain.CategoryNames()}
	item["required"] = []string{"date", "description", "amount", "type", "category"}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"transactions": map[string]any{"type": "array", "items": item},
			"bankName":     map[string]any{"type": []string{"string", "null"}},
			"periodStart":  map[string]any{"type": []string{"string", "null"}},
			"periodEnd":    map[string]any{"type": []string{"string", "null"}},
		},
		"required": []string{"transactions"},
	}
}

var (
	itemSchemaOnce sync.Once
	itemSchema     *jsonschema.Schema
	itemSchemaErr  error
)

func compiledItemSchema() (*jsonschema.Schema, error) {
	itemSchemaOnce.Do(func() {
		itemSchema, itemSchemaErr = compileSchema("transaction.json", TransactionJSONSchema())
	})
	return itemSchema, itemSchemaErr
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
