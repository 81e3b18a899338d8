package host

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"hostbridge/internal/domain"
)

// openChatSchema accepts both the single form (members is a string) and the
// group form (members is a non-empty array).
const openChatSchema = `{
	"type": "object",
	"properties": {
		"members": {
			"oneOf": [
				{"type": "string", "minLength": 1},
				{"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1}
			]
		},
		"message": {"type": "string"},
		"topic": {"type": "string"}
	},
	"required": ["members"]
}`

// ArgSchema validates the first argument of a request against a JSON schema.
type ArgSchema struct {
	schema *jsonschema.Schema
}

// CompileArgSchema compiles a JSON schema document.
func CompileArgSchema(doc string) (*ArgSchema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &ArgSchema{schema: schema}, nil
}

// Validate checks args[0]. A missing first argument is an error.
func (a *ArgSchema) Validate(args []json.RawMessage) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing argument", domain.ErrInvalidInput)
	}
	var data any
	if err := json.Unmarshal(args[0], &data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
	}
	result := a.schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, result.Error())
	}
	return nil
}
