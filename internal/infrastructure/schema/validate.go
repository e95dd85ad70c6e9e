// Package schema checks structured chronology records against the record JSON schema.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

//go:embed record.schema.json
var recordSchema []byte

type RecordValidator struct {
	schema *jsonschema.Schema
}

func NewRecordValidator() (*RecordValidator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(recordSchema)
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return &RecordValidator{schema: schema}, nil
}

// Validate returns *domain.MalformedEntryError when data does not follow the record schema.
func (v *RecordValidator) Validate(data []byte) error {
	result := v.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors))
	for field, evalErr := range result.Errors {
		reasons = append(reasons, fmt.Sprintf("%s: %v", field, evalErr))
	}
	sort.Strings(reasons)
	return &domain.MalformedEntryError{Index: -1, Field: "record", Reason: "schema validation failed: " + strings.Join(reasons, "; ")}
}
