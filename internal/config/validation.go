package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks the configuration for consistency and required
// values. It is called once at startup; an error here aborts boot.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateTokenSecret(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be positive, got %d", c.RateBurst)
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is empty", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" || strings.ContainsAny(c.ModelName, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidModelName, c.ModelName)
	}
	if c.EmbedderModel == "" || strings.ContainsAny(c.EmbedderModel, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidEmbedderModel, c.EmbedderModel)
	}
	return nil
}

func (c *Config) validateTokenSecret() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("%w: set DOCSAGE_TOKEN_SECRET", ErrMissingTokenSecret)
	}
	if len(c.TokenSecret) < MinTokenSecretLength {
		return fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrWeakTokenSecret, MinTokenSecretLength, len(c.TokenSecret))
	}
	return nil
}
