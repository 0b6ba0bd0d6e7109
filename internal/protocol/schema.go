package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed edit.schema.json
var editSchemaJSON string

var (
	editSchemaOnce sync.Once
	editSchema     *jsonschema.Schema
	editSchemaErr  error
)

// DecodeEdit validates raw against the EDIT message schema and decodes it.
func DecodeEdit(raw []byte) (EditMsg, error) {
	editSchemaOnce.Do(func() {
		editSchema, editSchemaErr = jsonschema.CompileString("edit.schema.json", editSchemaJSON)
	})
	if editSchemaErr != nil {
		return EditMsg{}, fmt.Errorf("edit schema: %w", editSchemaErr)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return EditMsg{}, err
	}
	if err := editSchema.Validate(doc); err != nil {
		return EditMsg{}, err
	}
	var m EditMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return EditMsg{}, err
	}
	return m, nil
}
