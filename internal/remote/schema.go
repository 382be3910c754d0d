package remote

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed echo.schema.json
var echoSchemaJSON []byte

var (
	schemaOnce sync.Once
	echoSchema *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(echoSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse echo schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("echo.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add echo schema: %w", err)
			return
		}
		echoSchema, schemaErr = c.Compile("echo.schema.json")
	})
	return echoSchema, schemaErr
}

// DecodeDocument validates one raw remote document against the echo
// schema and decodes it. Snapshot handling skips invalid documents
// instead of failing the whole snapshot: one malformed collaborator
// write must not stall reconciliation for everyone else.
func DecodeDocument(raw json.RawMessage) (Document, error) {
	sch, err := compiledSchema()
	if err != nil {
		return Document{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return Document{}, fmt.Errorf("validate document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
