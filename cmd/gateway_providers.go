package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/autoreply/internal/aireply"
	"github.com/nextlevelbuilder/autoreply/internal/autoreply"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
)

// buildGenerator wires the configured AI provider into a reply generator.
// It returns nil (AI disabled, fallback replies only) when the mode never
// needs AI or the provider cannot be built.
func buildGenerator(cfg *config.Config) autoreply.Generator {
	ar := cfg.AutoReply
	if autoreply.Mode(ar.ReplyMode) == autoreply.ModeKeyword {
		return nil
	}

	name := ar.AI.Provider
	pc, ok := cfg.Providers.Lookup(name)
	if !ok {
		slog.Warn("ai replies disabled: unknown provider", "provider", name)
		return nil
	}
	prov, err := providers.New(name, pc.APIKey, pc.APIBase, ar.AI.Model)
	if err != nil {
		slog.Warn("ai replies disabled", "provider", name, "error", err)
		return nil
	}

	model := ar.AI.Model
	if model == "" {
		model = prov.DefaultModel()
	}
	slog.Info("registered provider", "name", name, "model", model)

	return aireply.New(aireply.ProviderGenerator{Provider: prov}, aireply.Options{
		Model:        model,
		MaxTokens:    ar.AI.MaxTokens,
		SystemPrompt: ar.AI.SystemPrompt,
	}, ar.AI.Timeout())
}
