package llm

import (
	"fmt"
	"sort"

	"aiforge/internal/config"
)

// NewClientFromConfig builds a FallbackClient over every enabled
// `[llm.<name>]` provider, each wrapped in a circuit breaker, with the
// configured default provider tried first. Adapted from the teacher's
// NewLLMClient, which hardcoded an Azure->Ollama->Mock chain; here the
// chain is entirely config-driven (spec.md §6).
func NewClientFromConfig(cfg *config.Config) (Client, error) {
	names := make([]string, 0, len(cfg.LLM))
	for name := range cfg.LLM {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == cfg.DefaultLLMProvider {
			return true
		}
		if names[j] == cfg.DefaultLLMProvider {
			return false
		}
		return names[i] < names[j]
	})

	var clients []Client
	for _, name := range names {
		provider := cfg.LLM[name]
		if !provider.Enable {
			continue
		}

		client, err := buildProvider(provider)
		if err != nil {
			return nil, fmt.Errorf("llm: failed to build provider %q: %w", name, err)
		}
		clients = append(clients, NewBreakerClient(client))
	}

	if len(clients) == 0 {
		clients = append(clients, NewMockClient(""))
	}

	return NewFallbackClient(clients...), nil
}

func buildProvider(p config.LLMProvider) (Client, error) {
	switch p.Type {
	case "openai":
		return NewOpenAIClient(p.APIKey, p.BaseURL, p.Model)
	case "anthropic":
		return NewAnthropicClient(p.APIKey, p.Model)
	case "groq":
		return NewGroqClient(p.APIKey, p.Model)
	case "mock":
		return NewMockClient(""), nil
	default:
		return nil, fmt.Errorf("unknown llm provider type %q", p.Type)
	}
}
