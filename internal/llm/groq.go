package llm

import (
	"context"
	"errors"

	"github.com/conneroisu/groq-go"
)

// GroqClient is a client for the Groq API, used as a low-latency fallback
// ahead of the mock client in the default provider chain.
type GroqClient struct {
	client *groq.Client
	model  groq.ChatModel
}

// NewGroqClient creates a new Groq client. It requires an API key.
func NewGroqClient(apiKey, model string) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("Groq API key is required")
	}
	client, err := groq.NewClient(apiKey)
	if err != nil {
		return nil, err
	}
	m := groq.ModelLlama38B8192
	if model != "" {
		m = groq.ChatModel(model)
	}
	return &GroqClient{client: client, model: m}, nil
}

func (c *GroqClient) Name() string { return "groq:" + string(c.model) }

// Generate sends a chat completion request, folding systemPrompt and history
// ahead of the final user turn.
func (c *GroqClient) Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	messages := make([]groq.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, groq.ChatCompletionMessage{Role: groq.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, groq.ChatCompletionMessage{Role: groq.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, groq.ChatCompletionMessage{Role: groq.RoleUser, Content: userPrompt})

	resp, err := c.client.ChatCompletion(ctx, groq.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices from Groq")
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateEmbedding is not supported by the Groq client; callers fall back
// to another client's embedding implementation.
func (c *GroqClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding generation is not supported by the Groq client")
}
