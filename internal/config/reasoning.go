package config

import (
	"log"
	"os"
	"sync"
	"time"
)

type ReasoningConfig struct {
	// Provider is "gemini", "openrouter" or "none".
	Provider string
	Timeout  time.Duration
}

var (
	reasoningConfig *ReasoningConfig
	reasoningOnce   sync.Once
)

func LoadReasoningConfig() *ReasoningConfig {
	reasoningOnce.Do(func() {
		provider := os.Getenv("REASONING_PROVIDER")
		if provider == "" {
			provider = "gemini"
		}
		timeout := 10 * time.Second
		if raw := os.Getenv("REASONING_TIMEOUT"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				log.Printf("Warning: invalid REASONING_TIMEOUT %q, using %s", raw, timeout)
			} else {
				timeout = d
			}
		}
		reasoningConfig = &ReasoningConfig{
			Provider: provider,
			Timeout:  timeout,
		}
	})
	return reasoningConfig
}
