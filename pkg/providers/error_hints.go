package providers

import "strings"

func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch NormalizeProviderName(providerName) {
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return msg + " Hint: provider openai expects a Platform API key (sk-...)."
		}
	case ProviderOpenRouter:
		if strings.Contains(lower, "no auth credentials found") {
			return msg + " Hint: set provider.api_key to your OpenRouter key (sk-or-...)."
		}
	}

	return msg
}
