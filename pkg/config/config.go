// Package config loads cvpilot settings from an optional JSON file with
// environment-variable overrides (CVPILOT_* prefix).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Provider ProviderSettings `json:"provider"`
	Agent    AgentSettings    `json:"agent"`
	Events   EventSettings    `json:"events"`
	Session  SessionSettings  `json:"session"`
	Storage  StorageSettings  `json:"storage"`
	Log      LogSettings      `json:"log"`
}

type ProviderSettings struct {
	Name           string `json:"name" env:"CVPILOT_PROVIDER_NAME"`
	APIKey         string `json:"api_key" env:"CVPILOT_PROVIDER_API_KEY"`
	APIKeyFile     string `json:"api_key_file" env:"CVPILOT_PROVIDER_API_KEY_FILE"`
	APIBase        string `json:"api_base" env:"CVPILOT_PROVIDER_API_BASE"`
	Model          string `json:"model" env:"CVPILOT_PROVIDER_MODEL"`
	Proxy          string `json:"proxy,omitempty" env:"CVPILOT_PROVIDER_PROXY"`
	Organization   string `json:"organization,omitempty" env:"CVPILOT_PROVIDER_ORGANIZATION"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"CVPILOT_PROVIDER_TIMEOUT_SECONDS"`
}

type AgentSettings struct {
	StepBudget         int     `json:"step_budget" env:"CVPILOT_AGENT_STEP_BUDGET"`
	StepBudgetAnalysis int     `json:"step_budget_analysis" env:"CVPILOT_AGENT_STEP_BUDGET_ANALYSIS"`
	HistoryWindow      int     `json:"history_window" env:"CVPILOT_AGENT_HISTORY_WINDOW"`
	MaxTokens          int     `json:"max_tokens" env:"CVPILOT_AGENT_MAX_TOKENS"`
	Temperature        float64 `json:"temperature" env:"CVPILOT_AGENT_TEMPERATURE"`
	// RuleConfidence is the rule-stage confidence at or above which the
	// classifier skips the model stage.
	RuleConfidence     float64  `json:"rule_confidence" env:"CVPILOT_AGENT_RULE_CONFIDENCE"`
	UseModelClassifier bool     `json:"use_model_classifier" env:"CVPILOT_AGENT_USE_MODEL_CLASSIFIER"`
	GreetingPhrases    []string `json:"greeting_phrases" env:"CVPILOT_AGENT_GREETING_PHRASES"`
	AnalysisKeywords   []string `json:"analysis_keywords" env:"CVPILOT_AGENT_ANALYSIS_KEYWORDS"`
}

type EventSettings struct {
	HeartbeatSeconds int `json:"heartbeat_seconds" env:"CVPILOT_EVENTS_HEARTBEAT_SECONDS"`
	// ToolResultCap is the soft cap on tool-result text in emitted
	// events; longer results are elided with an explicit marker.
	ToolResultCap int `json:"tool_result_cap" env:"CVPILOT_EVENTS_TOOL_RESULT_CAP"`
	BufferSize    int `json:"buffer_size" env:"CVPILOT_EVENTS_BUFFER_SIZE"`
}

type SessionSettings struct {
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes" env:"CVPILOT_SESSION_IDLE_TIMEOUT_MINUTES"`
	ReapCron           string `json:"reap_cron" env:"CVPILOT_SESSION_REAP_CRON"`
}

type StorageSettings struct {
	SQLitePath string `json:"sqlite_path" env:"CVPILOT_STORAGE_SQLITE_PATH"`
}

type LogSettings struct {
	Level string `json:"level" env:"CVPILOT_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"CVPILOT_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderSettings{
			Name:           "openai",
			TimeoutSeconds: 120,
		},
		Agent: AgentSettings{
			StepBudget:         5,
			StepBudgetAnalysis: 10,
			HistoryWindow:      30,
			MaxTokens:          8192,
			Temperature:        0.7,
			RuleConfidence:     0.70,
			UseModelClassifier: false,
			GreetingPhrases: []string{
				"hi", "hello", "hey", "yo", "good morning", "good afternoon",
				"good evening", "howdy", "greetings",
			},
			AnalysisKeywords: []string{
				"analyze", "analysis", "review", "evaluate", "assess",
				"optimize", "improve",
			},
		},
		Events: EventSettings{
			HeartbeatSeconds: 30,
			ToolResultCap:    5000,
			BufferSize:       100,
		},
		Session: SessionSettings{
			IdleTimeoutMinutes: 30,
			ReapCron:           "*/5 * * * *",
		},
		Storage: StorageSettings{
			SQLitePath: "~/.cvpilot/sessions.db",
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// LoadConfig reads path if it exists, then applies environment overrides.
// A missing file is not an error; defaults plus env apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// SQLitePath returns the storage path with "~" expanded.
func (c *Config) SQLitePath() string {
	return expandHome(c.Storage.SQLitePath)
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}
