package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest

// AnthropicClient wraps the official anthropic-sdk-go client. Replaces the
// teacher's hand-rolled net/http POST against the Messages API with the
// ecosystem SDK, which the pack also carries for this provider.
type AnthropicClient struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, model string) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := defaultAnthropicModel
	if model != "" {
		m = anthropic.Model(model)
	}
	return &AnthropicClient{client: &client, model: m}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic:" + string(c.model) }

// Generate sends a Messages API request, folding history ahead of the final
// user turn and passing systemPrompt as the top-level system field.
func (c *AnthropicClient) Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)))

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	if len(resp.Content) == 0 {
		return "", errors.New("no response blocks from Anthropic")
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", errors.New("anthropic response contained no text blocks")
	}

	return out, nil
}

// GenerateEmbedding is not offered by Anthropic; callers fall back to
// another client's implementation.
func (c *AnthropicClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding generation is not supported by the Anthropic client")
}
