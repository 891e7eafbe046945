package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrTypeMismatch is returned when a payload does not conform to the
// requested TypeDescriptor.
var ErrTypeMismatch = errors.New("type mismatch")

// JSON type names accepted in Field.Type and Field.Items.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Field describes one top-level property of a structured result.
type Field struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	Items       string   `json:"items,omitempty" yaml:"items,omitempty"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// TypeDescriptor names the shape an LLM-structured call must return.
//
// Example:
//
//	var planShape = model.TypeDescriptor{
//	    Name: "plan",
//	    Fields: []model.Field{
//	        {Name: "refined_query", Type: model.TypeString, Required: true},
//	        {Name: "pending", Type: model.TypeArray, Items: model.TypeString, Required: true},
//	    },
//	}
type TypeDescriptor struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// JSONSchema renders the descriptor as a JSON Schema object.
func (d TypeDescriptor) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(d.Fields))
	required := []string{}
	for _, f := range d.Fields {
		prop := map[string]interface{}{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		if f.Type == TypeArray && f.Items != "" {
			prop["items"] = map[string]interface{}{"type": f.Items}
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       TypeObject,
		"properties": props,
		"required":   required,
	}
	if d.Description != "" {
		schema["description"] = d.Description
	}
	return schema
}

// Instructions is the text appended to a prompt so a free-text model replies
// with a single JSON object of this shape.
func (d TypeDescriptor) Instructions() string {
	schema, _ := json.MarshalIndent(d.JSONSchema(), "", "  ")
	return "Respond with a single JSON object and nothing else. It must match this JSON Schema:\n" + string(schema)
}

// Validate checks payload against the descriptor. Unknown keys are allowed.
// Every failure wraps ErrTypeMismatch.
func (d TypeDescriptor) Validate(payload map[string]interface{}) error {
	if payload == nil {
		return fmt.Errorf("%w: %s: empty payload", ErrTypeMismatch, d.Name)
	}
	for _, f := range d.Fields {
		v, ok := payload[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: %s.%s: missing required field", ErrTypeMismatch, d.Name, f.Name)
			}
			continue
		}
		if !isType(v, f.Type) {
			return fmt.Errorf("%w: %s.%s: expected %s, got %T", ErrTypeMismatch, d.Name, f.Name, f.Type, v)
		}
		if f.Type == TypeArray && f.Items != "" {
			for i, item := range v.([]interface{}) {
				if !isType(item, f.Items) {
					return fmt.Errorf("%w: %s.%s[%d]: expected %s, got %T", ErrTypeMismatch, d.Name, f.Name, i, f.Items, item)
				}
			}
		}
		if len(f.Enum) > 0 && !inEnum(v, f.Enum) {
			return fmt.Errorf("%w: %s.%s: %v not in %v", ErrTypeMismatch, d.Name, f.Name, v, f.Enum)
		}
	}
	return nil
}

func isType(v interface{}, typ string) bool {
	switch typ {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64, json.Number:
			return true
		}
		return false
	case TypeInteger:
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case "":
		return true
	}
	return false
}

func inEnum(v interface{}, enum []string) bool {
	s := fmt.Sprint(v)
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}

// StructuredModel is the LLM collaborator: it produces a payload of the
// requested shape from a prompt.
//
// Implementations must return an error wrapping ErrTypeMismatch when the
// model's output cannot be coerced into shape, and must respect ctx.
type StructuredModel interface {
	Generate(ctx context.Context, prompt string, shape TypeDescriptor) (map[string]interface{}, error)
}

// GenerateAs calls m and decodes the validated payload into T.
//
// Example:
//
//	type plan struct {
//	    RefinedQuery string   `json:"refined_query"`
//	    Pending      []string `json:"pending"`
//	}
//	p, err := model.GenerateAs[plan](ctx, llm, prompt, planShape)
func GenerateAs[T any](ctx context.Context, m StructuredModel, prompt string, shape TypeDescriptor) (T, error) {
	var out T

	payload, err := m.Generate(ctx, prompt, shape)
	if err != nil {
		return out, err
	}
	if err := shape.Validate(payload); err != nil {
		return out, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, shape.Name, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, shape.Name, err)
	}
	return out, nil
}

// ParseStructured extracts the JSON object from model text and validates it.
//
// Markdown code fences and prose around the object are tolerated.
func ParseStructured(text string, shape TypeDescriptor) (map[string]interface{}, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("%w: %s: no JSON object in model output", ErrTypeMismatch, shape.Name)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, shape.Name, err)
		}
	}

	if err := shape.Validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}
