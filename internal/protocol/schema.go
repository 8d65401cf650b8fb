package protocol

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeWelcome: "welcome.schema.json",
	TypeCatalog: "catalog.schema.json",
	TypeObs:     "obs.schema.json",
	TypeAck:     "ack.schema.json",
}

// Validator checks inbound server frames against the embedded JSON schemas.
// Frame types without a schema are accepted as-is.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for typ, name := range schemaFiles {
		raw, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		s, err := jsonschema.CompileString(name, string(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate decodes raw and validates it against the schema for msgType.
func (v *Validator) Validate(msgType string, raw []byte) error {
	if v == nil {
		return nil
	}
	s, ok := v.schemas[msgType]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	return nil
}
