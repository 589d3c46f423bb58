package config

import "strings"

// Secrets that may live outside the config file.
const (
	EnvFonnteKey     = "FONNTE_API_KEY"
	EnvContentKey    = "AI_PROXY_KEY"
	EnvContentModel  = "AI_MODEL"
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvHTTPPort      = "PORT"
)

// applyEnv overlays non-empty environment values onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvFonnteKey)); v != "" {
		cfg.Delivery.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvContentKey)); v != "" {
		cfg.Content.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvContentModel)); v != "" {
		cfg.Content.Model = v
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" && cfg.Alerts != nil {
		cfg.Alerts.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvHTTPPort)); v != "" && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":" + v
	}
}
