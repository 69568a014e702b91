package loader

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://schemas.modhost.dev/"

// schemas holds the compiled validators for the three module files.
type schemas struct {
	descriptor   *jsonschema.Schema
	pages        *jsonschema.Schema
	contribution *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	names := []string{"module.schema.json", "pages.schema.json", "contribution.schema.json"}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	var s schemas
	var err error
	if s.descriptor, err = c.Compile(schemaBaseURL + names[0]); err != nil {
		return nil, fmt.Errorf("compile descriptor schema: %w", err)
	}
	if s.pages, err = c.Compile(schemaBaseURL + names[1]); err != nil {
		return nil, fmt.Errorf("compile pages schema: %w", err)
	}
	if s.contribution, err = c.Compile(schemaBaseURL + names[2]); err != nil {
		return nil, fmt.Errorf("compile contribution schema: %w", err)
	}
	return &s, nil
}

// schemaViolation is the first concrete problem found by a schema.
type schemaViolation struct {
	field   string
	message string
}

// validateJSON checks raw against sch and decodes it into v. Decoding uses
// DisallowUnknownFields so the Go shape and the schema cannot drift apart.
func validateJSON(sch *jsonschema.Schema, raw []byte, v any) *schemaViolation {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &schemaViolation{message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return describeViolation(ve)
		}
		return &schemaViolation{message: err.Error()}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &schemaViolation{message: fmt.Sprintf("decode: %v", err)}
	}
	return nil
}

var printer = message.NewPrinter(language.English)

func describeViolation(ve *jsonschema.ValidationError) *schemaViolation {
	leaf := firstLeaf(ve)
	location := "/" + strings.Join(leaf.InstanceLocation, "/")

	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		field := strings.Join(k.Missing, ", ")
		return &schemaViolation{
			field:   field,
			message: fmt.Sprintf("missing required field %q at %s", field, location),
		}
	case *kind.AdditionalProperties:
		field := strings.Join(k.Properties, ", ")
		return &schemaViolation{
			field:   field,
			message: fmt.Sprintf("unknown field %q at %s", field, location),
		}
	}

	field := ""
	if n := len(leaf.InstanceLocation); n > 0 {
		field = leaf.InstanceLocation[n-1]
	}
	return &schemaViolation{
		field:   field,
		message: fmt.Sprintf("%s: %s", location, leaf.ErrorKind.LocalizedString(printer)),
	}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
