package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidDocument is returned for update documents that are not valid JSON
// objects of the expected form.
var ErrInvalidDocument = errors.New("invalid update document")

// document is the wire form of an update document:
//
//	{"description": "...", "schema": {"fields": [{"name": "...", "description": "...", "fields": [...]}]}}
type document struct {
	Description *string `json:"description"`
	Schema      *struct {
		Fields []UpdateNode `json:"fields"`
	} `json:"schema"`
}

// DecodeUpdateSpec reads a single JSON update document from r.
func DecodeUpdateSpec(r io.Reader) (UpdateSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return UpdateSpec{}, fmt.Errorf("schema: read document: %w", err)
	}
	return ParseUpdateSpec(data)
}

// ParseUpdateSpec parses an update document. The top-level value must be a
// JSON object; missing "description" or "schema" keys are not errors.
func ParseUpdateSpec(data []byte) (UpdateSpec, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return UpdateSpec{}, fmt.Errorf("schema: %w: top-level value is not an object", ErrInvalidDocument)
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return UpdateSpec{}, fmt.Errorf("schema: %w: %v", ErrInvalidDocument, err)
	}

	var spec UpdateSpec
	if doc.Description != nil {
		spec.TableDescription = *doc.Description
	}
	if doc.Schema != nil {
		spec.Fields = doc.Schema.Fields
	}
	return spec, nil
}
