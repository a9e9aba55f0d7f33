package review

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/raphaelgruber/methodkb/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/compiled_methodology.schema.json
var compiledSchema string

const compiledSchemaName = "compiled_methodology.schema.json"

var compiledSchemaLoader = gojsonschema.NewStringLoader(compiledSchema)

// FieldError represents a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

// Pointer converts a gojsonschema field path ("structure.stages.0") into a
// JSON pointer ("/structure/stages/0").
func (e FieldError) Pointer() string {
	if e.Field == "" || e.Field == "(root)" {
		return "/"
	}
	return "/" + strings.ReplaceAll(e.Field, ".", "/")
}

// ValidationError represents a schema validation error with field paths.
type ValidationError struct {
	Errors []FieldError
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// SchemaLoadError represents errors loading or parsing the schema itself.
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

// ValidateCompiled checks a compiled record against the embedded schema.
// It returns nil when the record is valid, a *ValidationError listing every
// violation, or a *SchemaLoadError when validation itself cannot run.
func ValidateCompiled(compiled *models.CompiledMethodology) error {
	doc, err := json.Marshal(compiled)
	if err != nil {
		return fmt.Errorf("marshal compiled record: %w", err)
	}

	result, err := gojsonschema.Validate(compiledSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &SchemaLoadError{
			Path:    compiledSchemaName,
			Message: "schema validation failed during load",
			Cause:   err,
		}
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	sort.SliceStable(validationErr.Errors, func(i, j int) bool {
		return validationErr.Errors[i].Field < validationErr.Errors[j].Field
	})
	return validationErr
}
