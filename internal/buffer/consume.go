package buffer

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const bufferNodeSchemaURL = "https://loudthoughts.dev/schemas/buffer-node.json"

// A buffer node is an object of slot key to entry, and every entry carries
// a data object.
const bufferNodeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "object"}
		}
	}
}`

var (
	nodeSchemaOnce sync.Once
	nodeSchema     *jsonschema.Schema
	nodeSchemaErr  error
)

func compiledNodeSchema() (*jsonschema.Schema, error) {
	nodeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(bufferNodeSchema))
		if err != nil {
			nodeSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(bufferNodeSchemaURL, doc); err != nil {
			nodeSchemaErr = err
			return
		}
		nodeSchema, nodeSchemaErr = compiler.Compile(bufferNodeSchemaURL)
	})
	return nodeSchema, nodeSchemaErr
}

// checkNodeShape returns a DataShapeError unless raw is a keyed mapping of
// entries.
func checkNodeShape(user string, raw json.RawMessage) error {
	schema, err := compiledNodeSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &DataShapeError{User: user, Reason: err.Error()}
	}
	if err := schema.Validate(inst); err != nil {
		return &DataShapeError{User: user, Reason: err.Error()}
	}
	return nil
}

// ConsumeOne deletes every entry of the user's buffer whose data.id is
// noteID. An empty buffer is left alone. A malformed buffer fails with a
// DataShapeError and is not modified.
func (b *Buffer) ConsumeOne(ctx context.Context, user, noteID string) error {
	if strings.TrimSpace(user) == "" {
		return ErrInvalidInput
	}
	return b.backend.Transact(ctx, user, func(current json.RawMessage) (json.RawMessage, error) {
		if isNullNode(current) {
			return current, nil
		}
		if err := checkNodeShape(user, current); err != nil {
			return nil, err
		}
		slots, err := decodeNode(user, current)
		if err != nil {
			return nil, err
		}
		kept := make(map[string]json.RawMessage, len(slots))
		for key, raw := range slots {
			if id, _ := slotColumns(raw); id == noteID {
				continue
			}
			kept[key] = raw
		}
		if len(kept) == len(slots) {
			return current, nil
		}
		return encodeNode(kept)
	})
}
