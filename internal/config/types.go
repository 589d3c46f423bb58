package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Content   ContentConfig   `json:"content"`
	Phone     PhoneConfig     `json:"phone"`
	Storage   StorageConfig   `json:"storage"`
	Alerts    *AlertsConfig   `json:"alerts,omitempty"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"` // default ":3007"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the schedule registry.
//
// Timezone is fixed per deployment; every cron expression is interpreted in it.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, default "Asia/Jakarta"
}

// DispatchConfig bounds calls to third parties made while dispatching.
//
// Defaults:
//   - generate_timeout: "20s"
//   - deliver_timeout: "30s"
//   - snooze: "1h"
type DispatchConfig struct {
	GenerateTimeout string `json:"generate_timeout,omitempty"`
	DeliverTimeout  string `json:"deliver_timeout,omitempty"`
	Snooze          string `json:"snooze,omitempty"`
}

// DeliveryConfig configures the outbound WhatsApp gateway (Fonnte).
//
// Token may be left empty in the file and provided via FONNTE_API_KEY.
type DeliveryConfig struct {
	APIURL      string `json:"api_url,omitempty"` // default "https://api.fonnte.com/send"
	Token       string `json:"token,omitempty"`
	CountryCode string `json:"country_code,omitempty"` // default "62"
	Typing      *bool  `json:"typing,omitempty"`       // default true
	Delay       string `json:"delay,omitempty"`        // provider delay hint, default "1-3"
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 1
	Timeout     string `json:"timeout,omitempty"`      // HTTP client timeout, default "15s"
}

// ContentConfig configures the OpenAI-compatible text generator.
//
// APIKey may be provided via AI_PROXY_KEY. When no key is configured the
// generator is disabled and the deterministic fallback text is always used.
type ContentConfig struct {
	BaseURL      string  `json:"base_url,omitempty"`
	APIKey       string  `json:"api_key,omitempty"`
	Model        string  `json:"model,omitempty"` // default "gemini-2.5-flash"
	Temperature  float64 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// PhoneConfig holds the deployment-specific local-prefix rule used when
// matching webhook senders ("+62" -> "0" by default).
type PhoneConfig struct {
	LocalPrefixFrom string `json:"local_prefix_from,omitempty"`
	LocalPrefixTo   string `json:"local_prefix_to,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/carebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AlertsConfig forwards WARN+ log lines to an operator Telegram chat.
//
// Token may be provided via TELEGRAM_TOKEN.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// PprofConfig exposes net/http/pprof on a separate listener. It is applied
// live on reload. A non-loopback addr requires a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token   string `json:"token,omitempty"`
}
