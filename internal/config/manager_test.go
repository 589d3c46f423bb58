package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{
		"http": {"addr": ":9000"},
		"scheduler": {"enabled": true, "timezone": "Asia/Jakarta"},
		"storage": {"driver": "sqlite", "path": "./x.db"}
	}`)
	m := NewConfigManager(p)
	m.getenv = func(string) string { return "" }
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Same(t, cfg, m.Get())
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
scheduler:
  enabled: true
  timezone: Asia/Jakarta
delivery:
  country_code: "62"
  typing: false
phone:
  local_prefix_from: "+62"
  local_prefix_to: "0"
`)
	m := NewConfigManager(p)
	m.getenv = func(string) string { return "" }
	cfg, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Delivery.Typing)
	assert.False(t, *cfg.Delivery.Typing)
	assert.Equal(t, "+62", cfg.Phone.LocalPrefixFrom)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"scheduler": {"enabled": true, "workers": 3}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{} {}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestEnvOverridesSecrets(t *testing.T) {
	p := writeFile(t, "config.json", `{"alerts": {"enabled": false, "chat_id": 1}}`)
	m := NewConfigManager(p)
	env := map[string]string{
		EnvFonnteKey:     "fonnte-secret",
		EnvContentKey:    "ai-secret",
		EnvTelegramToken: "tg-secret",
		EnvHTTPPort:      "3010",
	}
	m.getenv = func(k string) string { return env[k] }
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "fonnte-secret", cfg.Delivery.Token)
	assert.Equal(t, "ai-secret", cfg.Content.APIKey)
	assert.Equal(t, "tg-secret", cfg.Alerts.Token)
	assert.Equal(t, ":3010", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "empty", cfg: Config{}, ok: true},
		{name: "bad timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}},
		{name: "bad duration", cfg: Config{Dispatch: DispatchConfig{DeliverTimeout: "soon"}}},
		{name: "negative duration", cfg: Config{Dispatch: DispatchConfig{Snooze: "-1h"}}},
		{name: "bad driver", cfg: Config{Storage: StorageConfig{Driver: "mongo"}}},
		{name: "bad level", cfg: Config{Logging: LoggingConfig{Level: "loud"}}},
		{name: "alerts without chat", cfg: Config{Alerts: &AlertsConfig{Enabled: true}}},
		{name: "temperature", cfg: Config{Content: ContentConfig{Temperature: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}, Delivery: DeliveryConfig{Token: "a"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Delivery: DeliveryConfig{Token: "b"}}
	sections, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "delivery"}, sections)
	assert.NotEmpty(t, attrs)

	sections, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, sections)
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging": {"level": "info"}}`)
	m := NewConfigManager(p)
	m.getenv = func(string) string { return "" }
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"logging": {"level": "debug"}}`), 0o644))

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not published")
	}
	cancel()
	<-done
}
