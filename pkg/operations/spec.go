// Package operations holds the versioned registry of operation specs that
// mediated calls resolve against.
package operations

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FieldType is a JSON value type in an output schema
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Schema describes the expected model output
type Schema struct {
	Required []string             `yaml:"required" json:"required"`
	Fields   map[string]FieldType `yaml:"fields" json:"fields"`
}

// Spec is a named, versioned template with its output schema
type Spec struct {
	ID          string   `yaml:"id" json:"id"`
	Version     int      `yaml:"version" json:"version"`
	Description string   `yaml:"description" json:"description"`
	Inputs      []string `yaml:"inputs" json:"inputs"`
	Template    string   `yaml:"template" json:"template"`
	Output      Schema   `yaml:"output" json:"output"`
}

// Validate checks that a spec is well formed
func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	if strings.TrimSpace(s.Template) == "" {
		return fmt.Errorf("operation %s: template is required", s.ID)
	}
	for name, t := range s.Output.Fields {
		switch t {
		case FieldString, FieldNumber, FieldBoolean, FieldArray, FieldObject:
		default:
			return fmt.Errorf("operation %s: field %s has unknown type %q", s.ID, name, t)
		}
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// NotProvided renders in place of a placeholder with no input
func NotProvided(name string) string {
	return fmt.Sprintf("[not provided: %s]", name)
}

// Render substitutes every {{name}} placeholder. Strings are inserted as is,
// other scalars with fmt, and maps and slices as JSON.
func Render(template string, inputs map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		value, ok := inputs[name]
		if !ok || value == nil {
			return NotProvided(name)
		}
		return renderValue(value)
	})
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// Placeholders lists the distinct placeholder names in a template, in order
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// MissingFieldsError lists required output fields the model omitted
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("output is missing required fields: %s", strings.Join(e.Fields, ", "))
}

// ValidateOutput enforces required fields and reports type mismatches as
// warnings
func ValidateOutput(schema Schema, output map[string]any) ([]string, error) {
	var missing []string
	for _, field := range schema.Required {
		if _, ok := output[field]; !ok {
			missing = append(missing, field)
		}
	}

	var warnings []string
	names := make([]string, 0, len(schema.Fields))
	for name := range schema.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, ok := output[name]
		if !ok || value == nil {
			continue
		}
		want := schema.Fields[name]
		if got := typeOf(value); got != want {
			warnings = append(warnings, fmt.Sprintf("field %s: expected %s, got %s", name, want, got))
		}
	}

	if len(missing) > 0 {
		return warnings, &MissingFieldsError{Fields: missing}
	}
	return warnings, nil
}

func typeOf(v any) FieldType {
	switch v.(type) {
	case string:
		return FieldString
	case bool:
		return FieldBoolean
	case float64, float32, int, int64, int32, json.Number:
		return FieldNumber
	case []any, []string, []map[string]any:
		return FieldArray
	case map[string]any:
		return FieldObject
	default:
		return FieldType(fmt.Sprintf("%T", v))
	}
}
