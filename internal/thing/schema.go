package thing

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON Schema fragment used as a conformance predicate.
type Schema interface {
	// Validate returns nil when value conforms, or an error wrapping
	// ErrSchemaViolation describing the first failures.
	Validate(value any) error
}

// annotationKeys are WoT metadata keys that carry no validation meaning.
var annotationKeys = []string{"@type", "unit", "links", "href", "forms", "readOnly", "writeOnly", "input"}

// CompileSchema compiles a property or action schema fragment.
//
// WoT annotations (@type, unit, links, readOnly, ...) are stripped before
// compilation. A nil or empty fragment compiles to a schema that accepts
// every value.
func CompileSchema(fragment map[string]any) (Schema, error) {
	if len(fragment) == 0 {
		return acceptAll{}, nil
	}

	cleaned := make(map[string]any, len(fragment))
	for k, v := range fragment {
		cleaned[k] = v
	}
	for _, k := range annotationKeys {
		delete(cleaned, k)
	}
	if len(cleaned) == 0 {
		return acceptAll{}, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return &jsonSchema{schema: compiled}, nil
}

// jsonSchema validates values with gojsonschema.
type jsonSchema struct {
	schema *gojsonschema.Schema
}

// maxReportedErrors caps how many schema failures end up in an error message.
const maxReportedErrors = 3

func (s *jsonSchema) Validate(value any) error {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for i, desc := range result.Errors() {
		if i == maxReportedErrors {
			break
		}
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}

type acceptAll struct{}

func (acceptAll) Validate(_ any) error { return nil }
