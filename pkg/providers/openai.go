package providers

import (
	"strings"

	"github.com/cvpilot/cvpilot/pkg/config"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

func init() {
	RegisterFactory(ProviderOpenAI, newOpenAIProviderFromConfig)
}

func newOpenAIProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	auth, err := resolveAuth(cfg, "OpenAI")
	if err != nil {
		return nil, err
	}

	apiBase := strings.TrimSpace(cfg.Provider.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenAIAPIBase
	}
	model := strings.TrimSpace(cfg.Provider.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	extraHeaders := map[string]string{}
	if org := strings.TrimSpace(cfg.Provider.Organization); org != "" {
		extraHeaders["OpenAI-Organization"] = org
	}

	return newChatCompletionsProvider(
		ProviderOpenAI,
		apiBase,
		model,
		strings.TrimSpace(cfg.Provider.Proxy),
		requestTimeout(cfg),
		auth,
		extraHeaders,
	)
}
