package llm

import (
	"fmt"
	"strings"

	"github.com/janakkhadka100/fb-post-ai/pkg/config"
)

const defaultModel = "gpt-4o-mini"

type Config struct {
	Provider  string
	Model     string
	APIKey    string
	APIURL    string
	MaxTokens int
}

// LoadConfig reads LLM_* variables, accepting OPENAI_API_KEY as the key of last resort.
func LoadConfig() Config {
	return Config{
		Provider:  config.GetEnv("LLM_PROVIDER", "openai"),
		Model:     config.GetEnv("LLM_MODEL", defaultModel),
		APIKey:    config.GetEnv("LLM_API_KEY", config.GetEnv("OPENAI_API_KEY", "")),
		APIURL:    config.GetEnv("LLM_API_URL", ""),
		MaxTokens: config.GetEnvInt("LLM_MAX_TOKENS", 2000),
	}
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
