// Package anthropic adapts Anthropic's Claude API to model.StructuredModel.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/lexgraph/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// Model implements model.StructuredModel for Claude.
//
// The expected shape travels as a system prompt carrying its JSON Schema;
// the reply text is parsed with model.ParseStructured.
//
// Example usage:
//
//	m, err := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "")
//	payload, err := m.Generate(ctx, prompt, shape)
type Model struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude-backed model. Extra request options (base URL, HTTP
// client) are passed to the SDK client.
func New(apiKey, modelName string, opts ...option.RequestOption) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Model{client: &client, model: modelName, maxTokens: 4096}, nil
}

// Generate implements model.StructuredModel.
func (m *Model) Generate(ctx context.Context, prompt string, shape model.TypeDescriptor) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	message, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: shape.Instructions()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return model.ParseStructured(sb.String(), shape)
}
