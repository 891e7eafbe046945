package google

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/dshills/lexgraph/graph/model"
)

func TestSchema(t *testing.T) {
	shape := model.TypeDescriptor{
		Name:        "safety",
		Description: "safety verdict",
		Fields: []model.Field{
			{Name: "action", Type: model.TypeString, Required: true, Enum: []string{"REPLAN", "APPROVE"}},
			{Name: "pending", Type: model.TypeArray, Items: model.TypeString},
			{Name: "search", Type: model.TypeInteger},
			{Name: "ok", Type: model.TypeBoolean},
		},
	}

	s := Schema(shape)
	if s.Type != genai.TypeObject || s.Description != "safety verdict" {
		t.Errorf("unexpected root schema %+v", s)
	}
	if len(s.Required) != 1 || s.Required[0] != "action" {
		t.Errorf("unexpected required %v", s.Required)
	}
	action := s.Properties["action"]
	if action.Type != genai.TypeString || len(action.Enum) != 2 || action.Format != "enum" {
		t.Errorf("unexpected action schema %+v", action)
	}
	pending := s.Properties["pending"]
	if pending.Type != genai.TypeArray || pending.Items == nil || pending.Items.Type != genai.TypeString {
		t.Errorf("unexpected pending schema %+v", pending)
	}
	if s.Properties["search"].Type != genai.TypeInteger || s.Properties["ok"].Type != genai.TypeBoolean {
		t.Error("unexpected scalar types")
	}
}

func TestResponseText(t *testing.T) {
	if got := responseText(nil); got != "" {
		t.Errorf("expected empty text for nil response, got %q", got)
	}

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"action":"APPROVE"}`)}},
		}},
	}
	if got := responseText(resp); got != `{"action":"APPROVE"}` {
		t.Errorf("unexpected text %q", got)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(t.Context(), "", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}
