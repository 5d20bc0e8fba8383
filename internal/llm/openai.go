package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps the community go-openai SDK. Generalized from the
// teacher's single-string Complete to the system/user/history shape the
// multi-round task controller needs to replay conversation context.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI client. baseURL overrides the default
// endpoint, which also covers Azure OpenAI and self-hosted deployments.
func NewOpenAIClient(apiKey, baseURL, model string) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4TurboPreview
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config), model: model}, nil
}

func (c *OpenAIClient) Name() string { return "openai:" + c.model }

// Generate sends a chat completion request, folding systemPrompt and history
// ahead of the final user turn.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: systemPrompt,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices from OpenAI")
	}

	return resp.Choices[0].Message.Content, nil
}

// GenerateEmbedding creates a vector embedding for the given text.
func (c *OpenAIClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	}

	res, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(res.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return res.Data[0].Embedding, nil
}
