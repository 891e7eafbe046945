package model

import (
	"context"
	"errors"
	"testing"
)

var actionShape = TypeDescriptor{
	Name: "action",
	Fields: []Field{
		{Name: "action", Type: TypeString, Required: true, Enum: []string{"REPLAN", "REWRITE", "APPROVE"}},
		{Name: "reason", Type: TypeString},
	},
}

var planShape = TypeDescriptor{
	Name: "plan",
	Fields: []Field{
		{Name: "refined_query", Type: TypeString, Required: true},
		{Name: "pending", Type: TypeArray, Items: TypeString, Required: true},
		{Name: "count", Type: TypeInteger},
		{Name: "score", Type: TypeNumber},
		{Name: "ok", Type: TypeBoolean},
		{Name: "meta", Type: TypeObject},
	},
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		shape   TypeDescriptor
		payload map[string]interface{}
		wantErr bool
	}{
		{"valid plan", planShape, map[string]interface{}{"refined_query": "q", "pending": []interface{}{"legal_retriever"}}, false},
		{"empty pending ok", planShape, map[string]interface{}{"refined_query": "q", "pending": []interface{}{}}, false},
		{"all optional types", planShape, map[string]interface{}{
			"refined_query": "q", "pending": []interface{}{}, "count": float64(3), "score": 0.5, "ok": true,
			"meta": map[string]interface{}{"k": "v"},
		}, false},
		{"extra keys ignored", planShape, map[string]interface{}{"refined_query": "q", "pending": []interface{}{}, "extra": 1}, false},
		{"nil payload", planShape, nil, true},
		{"missing required", planShape, map[string]interface{}{"pending": []interface{}{}}, true},
		{"null required", planShape, map[string]interface{}{"refined_query": nil, "pending": []interface{}{}}, true},
		{"wrong type", planShape, map[string]interface{}{"refined_query": 42.0, "pending": []interface{}{}}, true},
		{"wrong item type", planShape, map[string]interface{}{"refined_query": "q", "pending": []interface{}{1.0}}, true},
		{"fractional integer", planShape, map[string]interface{}{"refined_query": "q", "pending": []interface{}{}, "count": 1.5}, true},
		{"enum match", actionShape, map[string]interface{}{"action": "APPROVE"}, false},
		{"enum mismatch", actionShape, map[string]interface{}{"action": "MAYBE"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.shape.Validate(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrTypeMismatch) {
					t.Errorf("expected ErrTypeMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	schema := planShape.JSONSchema()

	if schema["type"] != TypeObject {
		t.Errorf("expected object schema, got %v", schema["type"])
	}
	required := schema["required"].([]string)
	if len(required) != 2 || required[0] != "refined_query" || required[1] != "pending" {
		t.Errorf("unexpected required list %v", required)
	}
	props := schema["properties"].(map[string]interface{})
	pending := props["pending"].(map[string]interface{})
	if items := pending["items"].(map[string]interface{}); items["type"] != TypeString {
		t.Errorf("expected string items, got %v", items)
	}

	action := actionShape.JSONSchema()["properties"].(map[string]interface{})["action"].(map[string]interface{})
	if enum := action["enum"].([]string); len(enum) != 3 {
		t.Errorf("expected enum in schema, got %v", action)
	}
}

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{"plain json", `{"action":"REPLAN"}`, "REPLAN", false},
		{"fenced json", "```json\n{\"action\":\"REWRITE\"}\n```", "REWRITE", false},
		{"prose around", "Sure! Here it is: {\"action\":\"APPROVE\"} Hope that helps.", "APPROVE", false},
		{"no object", "I cannot answer that.", "", true},
		{"broken json", `{"action": `, "", true},
		{"wrong shape", `{"verdict":"yes"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseStructured(tt.text, actionShape)
			if tt.wantErr {
				if !errors.Is(err, ErrTypeMismatch) {
					t.Errorf("expected ErrTypeMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if payload["action"] != tt.want {
				t.Errorf("expected %q, got %v", tt.want, payload["action"])
			}
		})
	}
}

func TestGenerateAs(t *testing.T) {
	type plan struct {
		RefinedQuery string   `json:"refined_query"`
		Pending      []string `json:"pending"`
	}

	mock := NewMockModel().Script("plan", map[string]interface{}{
		"refined_query": "lease termination notice",
		"pending":       []interface{}{"legal_retriever", "doc_retriever"},
	})

	p, err := GenerateAs[plan](context.Background(), mock, "prompt", planShape)
	if err != nil {
		t.Fatalf("GenerateAs failed: %v", err)
	}
	if p.RefinedQuery != "lease termination notice" || len(p.Pending) != 2 || p.Pending[1] != "doc_retriever" {
		t.Errorf("unexpected decode: %+v", p)
	}
}

func TestGenerateAs_ValidatesEvenWhenProviderDoesNot(t *testing.T) {
	mock := NewMockModel().Script("action", map[string]interface{}{"action": "MAYBE"})
	mock.SkipValidation = true

	_, err := GenerateAs[map[string]interface{}](context.Background(), mock, "p", actionShape)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestMessageHelpers(t *testing.T) {
	if m := System("s"); m.Role != RoleSystem || m.Content != "s" {
		t.Errorf("unexpected system message %+v", m)
	}
	if m := User("u"); m.Role != RoleUser {
		t.Errorf("unexpected user message %+v", m)
	}
	if m := Assistant("a"); m.Role != RoleAssistant {
		t.Errorf("unexpected assistant message %+v", m)
	}
}
