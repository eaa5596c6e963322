package validation

import (
	"fmt"

	"github.com/loxone-mcp/control-plane/internal/models"
)

// FieldKind is the minimal JSON type vocabulary the schema validator
// checks against — enough for tool arguments without a general JSON-Schema
// engine.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindArray  FieldKind = "array"
)

// FieldSchema describes one argument.
type FieldSchema struct {
	Name     string
	Kind     FieldKind
	Required bool
	Enum     []string // non-empty restricts string values
	Min, Max *float64 // numeric range, both optional
}

// ToolSchema is a registered method/tool's full argument schema.
type ToolSchema struct {
	Method string
	Fields []FieldSchema
}

// SchemaValidator validates that a request's arguments conform to the
// schema registered for its method/tool name. It runs first in the
// pipeline so later validators see type-checked arguments.
type SchemaValidator struct {
	schemas map[string]ToolSchema
}

// DefaultToolSchemas registers the argument schema for every built-in
// tool. Tools absent from this list skip schema checking but still pass
// through the sanitizer and business rules.
func DefaultToolSchemas() []ToolSchema {
	f := func(v float64) *float64 { return &v }
	return []ToolSchema{
		{Method: "control_device", Fields: []FieldSchema{
			{Name: "device_id", Kind: KindString, Required: true},
			{Name: "action", Kind: KindString, Required: true},
			{Name: "room", Kind: KindString},
		}},
		{Method: "control_rolladen_unified", Fields: []FieldSchema{
			{Name: "scope", Kind: KindString, Required: true, Enum: []string{"device", "room", "zone", "all"}},
			{Name: "target", Kind: KindString},
			{Name: "action", Kind: KindString, Required: true, Enum: []string{"up", "down", "stop", "position"}},
			{Name: "position", Kind: KindNumber, Min: f(0), Max: f(100)},
			{Name: "room", Kind: KindString},
		}},
		{Method: "control_lights_unified", Fields: []FieldSchema{
			{Name: "scope", Kind: KindString, Required: true, Enum: []string{"device", "room", "zone", "all"}},
			{Name: "target", Kind: KindString},
			{Name: "action", Kind: KindString, Required: true, Enum: []string{"on", "off", "dim"}},
			{Name: "brightness", Kind: KindNumber, Min: f(0), Max: f(100)},
			{Name: "room", Kind: KindString},
		}},
		{Method: "set_room_temperature", Fields: []FieldSchema{
			{Name: "room_name", Kind: KindString, Required: true},
			{Name: "temperature", Kind: KindNumber, Required: true, Min: f(5), Max: f(35)},
		}},
		{Method: "set_room_mode", Fields: []FieldSchema{
			{Name: "room_name", Kind: KindString, Required: true},
			{Name: "mode", Kind: KindString, Required: true, Enum: []string{"heating", "cooling", "auto", "off", "fan_only", "dehumidify", "eco"}},
		}},
		{Method: "get_sensor_state_history", Fields: []FieldSchema{
			{Name: "uuid", Kind: KindString, Required: true},
		}},
		{Method: "get_door_window_activity", Fields: []FieldSchema{
			{Name: "hours", Kind: KindNumber, Min: f(1), Max: f(168)},
		}},
		{Method: "control_all_lights", Fields: []FieldSchema{
			{Name: "action", Kind: KindString, Required: true, Enum: []string{"on", "off"}},
		}},
		{Method: "control_room_lights", Fields: []FieldSchema{
			{Name: "room_name", Kind: KindString, Required: true},
			{Name: "action", Kind: KindString, Required: true, Enum: []string{"on", "off", "dim"}},
			{Name: "brightness", Kind: KindNumber, Min: f(0), Max: f(100)},
		}},
		{Method: "control_room_rolladen", Fields: []FieldSchema{
			{Name: "room_name", Kind: KindString, Required: true},
			{Name: "action", Kind: KindString, Required: true, Enum: []string{"up", "down", "stop", "position"}},
			{Name: "position", Kind: KindNumber, Min: f(0), Max: f(100)},
		}},
	}
}

func NewSchemaValidator(schemas []ToolSchema) *SchemaValidator {
	m := make(map[string]ToolSchema, len(schemas))
	for _, s := range schemas {
		m[s.Method] = s
	}
	return &SchemaValidator{schemas: m}
}

func (s *SchemaValidator) Name() string { return "schema" }

func (s *SchemaValidator) Validate(ctx *models.ValidationContext, method string, args map[string]interface{}) Result {
	schema, ok := s.schemas[method]
	if !ok {
		// Unregistered methods are out of scope for schema checking; the
		// business-rules validator's authorization gate still applies.
		return Result{IsValid: true, Sanitized: args}
	}

	result := Result{IsValid: true, Sanitized: args}
	for _, field := range schema.Fields {
		value, present := args[field.Name]
		if !present {
			if field.Required {
				result.Errors = append(result.Errors, Error{
					Field:    field.Name,
					Code:     MissingRequired,
					Expected: string(field.Kind),
					Actual:   "absent",
				})
			}
			continue
		}
		if err, ok := checkKind(field, value); !ok {
			result.Errors = append(result.Errors, err)
			continue
		}
		if len(field.Enum) > 0 {
			if str, ok := value.(string); ok && !containsStr(field.Enum, str) {
				result.Errors = append(result.Errors, Error{
					Field:    field.Name,
					Code:     InvalidEnum,
					Expected: fmt.Sprintf("one of %v", field.Enum),
					Actual:   str,
				})
			}
		}
		if field.Min != nil || field.Max != nil {
			if num, ok := toFloat(value); ok {
				if field.Min != nil && num < *field.Min {
					result.Errors = append(result.Errors, Error{
						Field: field.Name, Code: OutOfRange,
						Expected: fmt.Sprintf(">= %g", *field.Min), Actual: fmt.Sprintf("%g", num),
					})
				}
				if field.Max != nil && num > *field.Max {
					result.Errors = append(result.Errors, Error{
						Field: field.Name, Code: OutOfRange,
						Expected: fmt.Sprintf("<= %g", *field.Max), Actual: fmt.Sprintf("%g", num),
					})
				}
			}
		}
	}
	result.IsValid = len(result.Errors) == 0
	return result
}

func checkKind(field FieldSchema, value interface{}) (Error, bool) {
	switch field.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return Error{Field: field.Name, Code: InvalidType, Expected: "string", Actual: fmt.Sprintf("%T", value)}, false
		}
	case KindNumber:
		if _, ok := toFloat(value); !ok {
			return Error{Field: field.Name, Code: InvalidType, Expected: "number", Actual: fmt.Sprintf("%T", value)}, false
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return Error{Field: field.Name, Code: InvalidType, Expected: "bool", Actual: fmt.Sprintf("%T", value)}, false
		}
	case KindArray:
		if _, ok := value.([]interface{}); !ok {
			return Error{Field: field.Name, Code: InvalidType, Expected: "array", Actual: fmt.Sprintf("%T", value)}, false
		}
	}
	return Error{}, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
