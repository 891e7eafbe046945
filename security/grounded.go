package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/lexgraph/logger"
)

const (
	// DefaultGroundednessURL is Upstage's OpenAI-compatible endpoint.
	DefaultGroundednessURL = "https://api.upstage.ai/v1"

	// DefaultGroundednessModel is the groundedness-check model name.
	DefaultGroundednessModel = "groundedness-check-240502"

	labelNotGrounded = "not_grounded"
)

// GroundednessOracle judges whether an answer is supported by its evidence.
type GroundednessOracle interface {
	IsGrounded(ctx context.Context, evidence interface{}, answer string) bool
}

// GroundednessChecker sends evidence and answer to a groundedness-check model
// as a user/assistant exchange. The model replies with one of "grounded",
// "not_grounded" or "not_sure"; only "not_grounded" fails the check.
type GroundednessChecker struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

// NewGroundednessChecker creates a checker. Empty baseURL and modelName
// select the Upstage defaults.
func NewGroundednessChecker(apiKey, baseURL, modelName string, log logger.Logger, opts ...option.RequestOption) *GroundednessChecker {
	if baseURL == "" {
		baseURL = DefaultGroundednessURL
	}
	if modelName == "" {
		modelName = DefaultGroundednessModel
	}
	if log == nil {
		log = logger.NewNop()
	}

	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)}
	client := openai.NewClient(append(base, opts...)...)
	return &GroundednessChecker{client: &client, model: modelName, log: log}
}

// IsGrounded reports false when the model labels the answer not grounded or
// the call fails.
func (c *GroundednessChecker) IsGrounded(ctx context.Context, evidence interface{}, answer string) bool {
	label, err := c.check(ctx, serializeEvidence(evidence), answer)
	if err != nil {
		c.log.Warn("groundedness", "groundedness check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return label != labelNotGrounded
}

func (c *GroundednessChecker) check(ctx context.Context, evidence, answer string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(evidence),
			openai.AssistantMessage(answer),
		},
	})
	if err != nil {
		return "", fmt.Errorf("groundedness: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("groundedness: no choices in response")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// serializeEvidence flattens evidence into the text the checker compares the
// answer against: strings pass through, lists join line by line and anything
// else becomes indented JSON.
func serializeEvidence(evidence interface{}) string {
	switch v := evidence.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	case []interface{}:
		lines := make([]string, len(v))
		for i, item := range v {
			lines[i] = fmt.Sprint(item)
		}
		return strings.Join(lines, "\n")
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
