// Package google adapts Gemini to model.StructuredModel.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/lexgraph/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

// Model implements model.StructuredModel with Gemini's native JSON mode: the
// TypeDescriptor is converted to a genai.Schema so the service enforces
// the shape server-side.
type Model struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed model. Call Close when done.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &Model{client: client, model: modelName}, nil
}

// Close releases the underlying client.
func (m *Model) Close() error {
	return m.client.Close()
}

// Generate implements model.StructuredModel.
func (m *Model) Generate(ctx context.Context, prompt string, shape model.TypeDescriptor) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gm := m.client.GenerativeModel(m.model)
	gm.ResponseMIMEType = "application/json"
	gm.ResponseSchema = Schema(shape)

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: %s: empty response", model.ErrTypeMismatch, shape.Name)
	}
	return model.ParseStructured(text, shape)
}

// Schema converts a TypeDescriptor to a genai.Schema.
func Schema(shape model.TypeDescriptor) *genai.Schema {
	schema := &genai.Schema{
		Type:        genai.TypeObject,
		Description: shape.Description,
		Properties:  make(map[string]*genai.Schema, len(shape.Fields)),
	}
	for _, f := range shape.Fields {
		prop := &genai.Schema{
			Type:        schemaType(f.Type),
			Description: f.Description,
			Enum:        f.Enum,
		}
		if len(f.Enum) > 0 {
			prop.Format = "enum"
		}
		if f.Type == model.TypeArray {
			prop.Items = &genai.Schema{Type: schemaType(f.Items)}
		}
		schema.Properties[f.Name] = prop
		if f.Required {
			schema.Required = append(schema.Required, f.Name)
		}
	}
	return schema
}

func schemaType(t string) genai.Type {
	switch t {
	case model.TypeInteger:
		return genai.TypeInteger
	case model.TypeNumber:
		return genai.TypeNumber
	case model.TypeBoolean:
		return genai.TypeBoolean
	case model.TypeArray:
		return genai.TypeArray
	case model.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text)
		}
	}
	return ""
}
