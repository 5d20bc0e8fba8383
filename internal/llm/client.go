// Package llm provides a provider-agnostic chat-completion client used by
// instruction analysis, code generation, and AI-assisted result validation.
//
// Adapted from the teacher's internal/llm/client.go: the Client interface
// gains a system/user/history shape (the teacher's single-string Complete
// could not carry conversation history across multi-round attempts), and
// the fallback chain is preserved as FallbackClient.
package llm

import (
	"context"
	"fmt"

	"aiforge/internal/logger"

	"go.uber.org/zap"
)

// Role identifies the speaker of one turn in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role
	Content string
}

// Client is the provider-agnostic completion interface every backend
// implements. Generate carries the rolling conversation window the
// multi-round task controller builds up across attempts (spec.md §4.8).
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// FallbackClient tries each client in order, returning the first success.
// Preserved verbatim in spirit from the teacher's FallbackClient.
type FallbackClient struct {
	clients []Client
}

// NewFallbackClient builds a fallback chain over clients, tried in order.
func NewFallbackClient(clients ...Client) *FallbackClient {
	return &FallbackClient{clients: clients}
}

func (f *FallbackClient) Name() string { return "fallback" }

func (f *FallbackClient) Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	var lastErr error

	for i, client := range f.clients {
		logger.WithComponent("llm").Debug("trying llm client",
			zap.Int("position", i+1), zap.String("client", client.Name()))

		response, err := client.Generate(ctx, systemPrompt, userPrompt, history)
		if err == nil {
			if i > 0 {
				logger.WithComponent("llm").Info("fell back to secondary llm client",
					zap.String("client", client.Name()))
			}
			return response, nil
		}

		logger.WithComponent("llm").Warn("llm client failed",
			zap.String("client", client.Name()), zap.Error(err))
		lastErr = err
	}

	return "", fmt.Errorf("all llm clients failed, last error: %w", lastErr)
}

func (f *FallbackClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for _, client := range f.clients {
		embedding, err := client.GenerateEmbedding(ctx, text)
		if err == nil {
			return embedding, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("all embedding clients failed, last error: %w", lastErr)
}
