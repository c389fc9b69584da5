package providers

import (
	"strings"

	"github.com/cvpilot/cvpilot/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-4o-mini"
)

func init() {
	RegisterFactory(ProviderOpenRouter, newOpenRouterProviderFromConfig)
}

func newOpenRouterProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	auth, err := resolveAuth(cfg, "OpenRouter")
	if err != nil {
		return nil, err
	}

	apiBase := strings.TrimSpace(cfg.Provider.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenRouterAPIBase
	}
	model := strings.TrimSpace(cfg.Provider.Model)
	if model == "" {
		model = defaultOpenRouterModel
	}

	return newChatCompletionsProvider(
		ProviderOpenRouter,
		apiBase,
		model,
		strings.TrimSpace(cfg.Provider.Proxy),
		requestTimeout(cfg),
		auth,
		nil,
	)
}
