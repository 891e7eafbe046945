package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/lexgraph/graph/model"
)

var actionShape = model.TypeDescriptor{
	Name: "action",
	Fields: []model.Field{
		{Name: "action", Type: model.TypeString, Required: true, Enum: []string{"REPLAN", "REWRITE", "APPROVE"}},
	},
}

func fakeServer(t *testing.T, replyText string, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		reply := map[string]interface{}{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"content":     []map[string]interface{}{{"type": "text", "text": replyText}},
			"usage":       map[string]interface{}{"input_tokens": 10, "output_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestGenerate_ParsesStructuredReply(t *testing.T) {
	var req map[string]interface{}
	srv := fakeServer(t, "```json\n{\"action\":\"REWRITE\"}\n```", &req)
	defer srv.Close()

	m, err := New("test-key", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	payload, err := m.Generate(context.Background(), "please rewrite the answer", actionShape)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if payload["action"] != "REWRITE" {
		t.Errorf("expected REWRITE, got %v", payload)
	}

	system, _ := json.Marshal(req["system"])
	if !strings.Contains(string(system), "JSON Schema") {
		t.Errorf("expected schema instructions in system prompt, got %s", system)
	}
	if req["model"] != DefaultModel {
		t.Errorf("expected default model, got %v", req["model"])
	}
}

func TestGenerate_TypeMismatch(t *testing.T) {
	srv := fakeServer(t, "I think you should approve it.", nil)
	defer srv.Close()

	m, _ := New("test-key", "claude-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := m.Generate(context.Background(), "p", actionShape)
	if !errors.Is(err, model.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestGenerate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	m, _ := New("bad-key", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := m.Generate(context.Background(), "p", actionShape)
	if err == nil || errors.Is(err, model.ErrTypeMismatch) {
		t.Errorf("expected transport error, got %v", err)
	}
}
