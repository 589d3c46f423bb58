package app

import (
	"fmt"
	"strings"
	"time"

	"carebot/internal/config"
	"carebot/internal/content"
	"carebot/internal/delivery"
	"carebot/internal/dispatch"
	"carebot/internal/httpapi"
	"carebot/internal/observability/pprof"
	"carebot/internal/phone"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

const defaultShutdownTimeout = 5 * time.Second

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if a := cfg.Alerts; a != nil {
		lc.Alerts = logx.AlertConfig{
			Enabled:    a.Enabled,
			MinLevel:   a.MinLevel,
			RatePerSec: a.RatePerSec,
		}
	}
	return lc
}

func mapServerConfig(cfg *config.Config) (httpapi.ServerConfig, time.Duration, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 60*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		return httpapi.ServerConfig{}, 0, err
	}
	return httpapi.ServerConfig{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
	}, shutdown, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, time.Duration, error) {
	gen, err := config.ParseDurationOrDefault("dispatch.generate_timeout", cfg.Dispatch.GenerateTimeout, dispatch.DefaultGenerateTimeout)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	del, err := config.ParseDurationOrDefault("dispatch.deliver_timeout", cfg.Dispatch.DeliverTimeout, dispatch.DefaultDeliverTimeout)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	snooze, err := config.ParseDurationOrDefault("dispatch.snooze", cfg.Dispatch.Snooze, 0)
	if err != nil {
		return dispatch.Config{}, 0, err
	}
	return dispatch.Config{GenerateTimeout: gen, DeliverTimeout: del}, snooze, nil
}

func mapFonnteConfig(cfg *config.Config) (delivery.FonnteConfig, error) {
	d := cfg.Delivery
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", d.Timeout, 15*time.Second)
	if err != nil {
		return delivery.FonnteConfig{}, err
	}
	return delivery.FonnteConfig{
		APIURL:      strings.TrimSpace(d.APIURL),
		Token:       strings.TrimSpace(d.Token),
		CountryCode: strings.TrimSpace(d.CountryCode),
		Typing:      d.Typing,
		Delay:       strings.TrimSpace(d.Delay),
		RatePerSec:  d.RatePerSec,
		Timeout:     timeout,
	}, nil
}

func mapContentConfig(cfg *config.Config) content.Config {
	c := cfg.Content
	return content.Config{
		BaseURL:      strings.TrimSpace(c.BaseURL),
		APIKey:       strings.TrimSpace(c.APIKey),
		Model:        strings.TrimSpace(c.Model),
		Temperature:  c.Temperature,
		SystemPrompt: c.SystemPrompt,
	}
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	if p == nil {
		return pprof.Config{}
	}
	return pprof.Config{Enabled: p.Enabled, Addr: strings.TrimSpace(p.Addr), Token: strings.TrimSpace(p.Token)}
}

// mapLocalRule falls back to the +62 -> 0 rule when phone.* is unset.
func mapLocalRule(cfg *config.Config) phone.LocalRule {
	from := strings.TrimSpace(cfg.Phone.LocalPrefixFrom)
	if from == "" {
		return phone.DefaultLocalRule
	}
	return phone.LocalRule{From: from, To: strings.TrimSpace(cfg.Phone.LocalPrefixTo)}
}

// OpenStore opens the configured storage outside of a running App.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}
