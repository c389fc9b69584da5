package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cvpilot/cvpilot/pkg/config"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

var (
	factoryMu sync.RWMutex
	factories = map[string]func(cfg *config.Config) (LLMProvider, error){}
)

// RegisterFactory makes a provider constructor available under name.
// Registration runs from package init; it is not a runtime API.
func RegisterFactory(name string, build func(cfg *config.Config) (LLMProvider, error)) {
	name = NormalizeProviderName(name)
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = build
}

// SupportedProviders lists registered provider names, sorted.
func SupportedProviders() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeProviderName lowercases and defaults the provider name.
func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenAI
	}
	return name
}

// CreateProvider builds the configured LLM provider.
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	name := NormalizeProviderName(cfg.Provider.Name)

	factoryMu.RLock()
	build, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}
	return build(cfg)
}

// resolveAuth builds the api-key auth strategy from config, preferring
// the inline key over a key file.
func resolveAuth(cfg *config.Config, providerName string) (AuthStrategy, error) {
	if key := strings.TrimSpace(cfg.Provider.APIKey); key != "" {
		return NewAPIKeyAuth(NewStaticTokenSource(key, "provider.api_key")), nil
	}
	if keyFile := strings.TrimSpace(cfg.Provider.APIKeyFile); keyFile != "" {
		return NewAPIKeyAuth(NewFileTokenSource(keyFile)), nil
	}
	return nil, fmt.Errorf("%s API key is required (set provider.api_key or CVPILOT_PROVIDER_API_KEY)", providerName)
}

func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Provider.TimeoutSeconds <= 0 {
		return defaultHTTPTimeout
	}
	return time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
}
