package ir

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/xeipuuv/gojsonschema"
)

// documentSchema is the JSON Schema every IR document must satisfy,
// checked with xeipuuv/gojsonschema in place of the teacher's
// hand-rolled reflect-based pkg/schema validator for this one
// document-level shape (see DESIGN.md).
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "entry", "nodes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "version": {"type": "integer", "minimum": 1},
    "entry": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "params": {"type": "object"},
          "children": {"type": "array", "items": {"type": "string"}},
          "cond": {"type": "string"},
          "then": {"type": "array", "items": {"type": "string"}},
          "else": {"type": "array", "items": {"type": "string"}},
          "flow_ref": {"type": "string"},
          "input_map": {"type": "object"},
          "output_map": {"type": "object"},
          "share_items": {"type": "boolean"},
          "share_state": {"type": "boolean"}
        }
      }
    }
  }
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateDocument validates a decoded document against the IR JSON
// Schema. Decoding (YAML or JSON) happens before this call; this only
// checks shape, not referential integrity (node map building handles
// dangling ids).
func ValidateDocument(doc Document) error {
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return apperr.Wrap(apperr.KindSchema, "marshal document for validation", err)
	}
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(asJSON))
	if err != nil {
		return apperr.Wrap(apperr.KindSchema, "run schema validation", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.New(apperr.KindSchema, fmt.Sprintf("IR schema validation failed: %s", strings.Join(msgs, "; ")))
	}
	return nil
}
