package aireply

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/autoreply/internal/providers"
)

// ProviderGenerator adapts an LLM provider to TextGenerator.
type ProviderGenerator struct {
	Provider providers.Provider
}

func (g ProviderGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if g.Provider == nil {
		return "", ErrNotConfigured
	}

	var msgs []providers.Message
	if opts.SystemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: opts.SystemPrompt})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: prompt})

	req := providers.ChatRequest{
		Messages: msgs,
		Model:    opts.Model,
		Options:  map[string]any{},
	}
	if opts.MaxTokens > 0 {
		req.Options[providers.OptMaxTokens] = opts.MaxTokens
	}

	resp, err := g.Provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.Provider.Name(), err)
	}
	return resp.Content, nil
}
