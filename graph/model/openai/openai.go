// Package openai adapts OpenAI chat completions to model.StructuredModel.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/lexgraph/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o"

// Model implements model.StructuredModel using JSON-object response format.
//
// Any OpenAI-compatible endpoint works; pass option.WithBaseURL to point the
// client elsewhere.
type Model struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-backed model.
func New(apiKey, modelName string, opts ...option.RequestOption) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Model{client: &client, model: modelName}, nil
}

// Generate implements model.StructuredModel.
func (m *Model) Generate(ctx context.Context, prompt string, shape model.TypeDescriptor) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(shape.Instructions()),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}

	return model.ParseStructured(completion.Choices[0].Message.Content, shape)
}
