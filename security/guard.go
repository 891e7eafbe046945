package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/graph/tool"
	"github.com/dshills/lexgraph/logger"
)

// DefaultGuardURL is the Lakera Guard v2 endpoint.
const DefaultGuardURL = "https://api.lakera.ai/v2/guard"

// PromptGuard screens a conversation for prompt injection.
type PromptGuard interface {
	IsSecured(ctx context.Context, messages []model.Message) bool
}

// LakeraGuard calls the Lakera Guard API through an HTTP tool.
type LakeraGuard struct {
	url    string
	apiKey string
	http   tool.Tool
	log    logger.Logger
}

// NewLakeraGuard creates a guard. An empty url selects DefaultGuardURL and a
// nil transport uses an HTTP tool with a five second timeout.
func NewLakeraGuard(url, apiKey string, transport tool.Tool, log logger.Logger) *LakeraGuard {
	if url == "" {
		url = DefaultGuardURL
	}
	if transport == nil {
		transport = tool.NewHTTPTool(5 * time.Second)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LakeraGuard{url: url, apiKey: apiKey, http: transport, log: log}
}

// IsSecured reports false when the guard flags the messages or cannot be
// reached.
func (g *LakeraGuard) IsSecured(ctx context.Context, messages []model.Message) bool {
	flagged, err := g.check(ctx, messages)
	if err != nil {
		g.log.Warn("guard", "prompt guard failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return !flagged
}

func (g *LakeraGuard) check(ctx context.Context, messages []model.Message) (bool, error) {
	payload := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = model.RoleUser
		}
		payload = append(payload, map[string]interface{}{"role": role, "content": m.Content})
	}

	out, err := g.http.Call(ctx, map[string]interface{}{
		"url":     g.url,
		"method":  "POST",
		"headers": map[string]interface{}{"Authorization": "Bearer " + g.apiKey},
		"body":    map[string]interface{}{"messages": payload},
	})
	if err != nil {
		return false, err
	}

	decoded, ok := out["json"].(map[string]interface{})
	if !ok {
		return false, errors.New("guard response is not a JSON object")
	}
	flagged, ok := decoded["flagged"]
	if !ok {
		return false, nil
	}
	b, ok := flagged.(bool)
	if !ok {
		return false, fmt.Errorf("guard response: flagged is %T", flagged)
	}
	return b, nil
}
