package models

import "fmt"

// EvidenceType classifies what an evidence attachment carries.
type EvidenceType string

const (
	EvidenceTypeText       EvidenceType = "text"       // Free text under a "content" key
	EvidenceTypeStructured EvidenceType = "structured" // Key/value object checked against a schema
	EvidenceTypeFile       EvidenceType = "file"       // Pointer into external blob storage
)

// FieldType is the set of primitive types the evidence schema dialect knows.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
)

// EvidenceSchema constrains what counts as satisfying proof for a task. The
// dialect is deliberately small: required fields, primitive type checks and
// min_length for strings. Richer validation belongs to the caller, outside
// the engine.
//
// Format checks run when evidence is attached; constraint checks run when an
// outcome is recorded. An attachment may therefore be stored while still not
// satisfying the schema.
type EvidenceSchema struct {
	Type      EvidenceType          `json:"type"                 validate:"required,oneof=text structured file"`
	MinLength *int                  `json:"min_length,omitempty"` // text evidence only
	Fields    map[string]*FieldSpec `json:"fields,omitempty"`     // structured evidence only
}

// FieldSpec constrains one field of structured evidence.
type FieldSpec struct {
	Type      FieldType `json:"type" validate:"required,oneof=string number boolean"`
	Required  bool      `json:"required"`
	MinLength *int      `json:"min_length,omitempty"` // string fields only
}

// Clone returns a deep copy, nil-safe.
func (s *EvidenceSchema) Clone() *EvidenceSchema {
	if s == nil {
		return nil
	}

	copied := &EvidenceSchema{Type: s.Type, MinLength: copyIntPointer(s.MinLength)}

	if s.Fields != nil {
		copied.Fields = make(map[string]*FieldSpec, len(s.Fields))
		for name, spec := range s.Fields {
			copied.Fields[name] = &FieldSpec{
				Type:      spec.Type,
				Required:  spec.Required,
				MinLength: copyIntPointer(spec.MinLength),
			}
		}
	}

	return copied
}

// ValidateEvidenceFormat reports whether data is well formed for the given
// evidence type. Schema constraints (required fields, minimum lengths) are
// not checked here: they decide outcome readiness, not whether an attachment
// may be recorded. Field type mismatches are format errors, since a value of
// the wrong primitive type can never become satisfying later.
func ValidateEvidenceFormat(evidenceType EvidenceType, data map[string]any, schema *EvidenceSchema) error {
	if data == nil {
		return fmt.Errorf("evidence data is required")
	}

	switch evidenceType {
	case EvidenceTypeText:
		content, exists := data["content"]
		if !exists {
			return fmt.Errorf("text evidence requires a content key")
		}

		if _, ok := content.(string); !ok {
			return fmt.Errorf("text evidence content must be a string")
		}

		return nil
	case EvidenceTypeStructured:
		if schema == nil || schema.Type != EvidenceTypeStructured {
			return nil
		}

		for name, spec := range schema.Fields {
			value, exists := data[name]
			if !exists {
				continue
			}

			if !matchesFieldType(value, spec.Type) {
				return fmt.Errorf("field %q must be of type %s", name, spec.Type)
			}
		}

		return nil
	case EvidenceTypeFile:
		// Pointer shape is checked by the engine against the storage
		// pointer schema.
		return nil
	default:
		return fmt.Errorf("unknown evidence type: %s", evidenceType)
	}
}

// Satisfies reports whether an attachment of the given type and data meets
// every constraint of the schema. A nil schema accepts any well-formed
// attachment of any type.
func (s *EvidenceSchema) Satisfies(evidenceType EvidenceType, data map[string]any) bool {
	if s == nil {
		return ValidateEvidenceFormat(evidenceType, data, nil) == nil
	}

	if evidenceType != s.Type {
		return false
	}

	switch s.Type {
	case EvidenceTypeText:
		content, ok := data["content"].(string)
		if !ok {
			return false
		}

		return s.MinLength == nil || len(content) >= *s.MinLength
	case EvidenceTypeStructured:
		for name, spec := range s.Fields {
			value, exists := data[name]
			if !exists {
				if spec.Required {
					return false
				}

				continue
			}

			if !matchesFieldType(value, spec.Type) {
				return false
			}

			if spec.Type == FieldTypeString && spec.MinLength != nil {
				if text, _ := value.(string); len(text) < *spec.MinLength {
					return false
				}
			}
		}

		return true
	case EvidenceTypeFile:
		return data != nil
	default:
		return false
	}
}

func matchesFieldType(value any, fieldType FieldType) bool {
	switch fieldType {
	case FieldTypeString:
		_, ok := value.(string)

		return ok
	case FieldTypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		default:
			return false
		}
	case FieldTypeBoolean:
		_, ok := value.(bool)

		return ok
	default:
		return false
	}
}

func copyIntPointer(value *int) *int {
	if value == nil {
		return nil
	}

	copied := *value

	return &copied
}
