package config

import (
	"reflect"
	"strings"

	logx "carebot/pkg/logx"
)

// LiveSections can be applied without a restart.
var LiveSections = map[string]bool{"logging": true, "pprof": true}

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets are reported only as "*_set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
	}
	if redactDelivery(oldCfg.Delivery) != redactDelivery(newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs, logx.Bool("delivery.token_set", strings.TrimSpace(newCfg.Delivery.Token) != ""))
	}
	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		changed = append(changed, "content")
		attrs = append(attrs,
			logx.String("content.model", newCfg.Content.Model),
			logx.Bool("content.api_key_set", strings.TrimSpace(newCfg.Content.APIKey) != ""),
		)
	}
	if oldCfg.Phone != newCfg.Phone {
		changed = append(changed, "phone")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
	}
	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		if p := newCfg.Pprof; p != nil {
			attrs = append(attrs,
				logx.Bool("pprof.enabled", p.Enabled),
				logx.String("pprof.addr", p.Addr),
				logx.Bool("pprof.token_set", p.Token != ""),
			)
		}
	}
	return changed, attrs
}

type deliveryView struct {
	apiURL, country, delay, timeout string
	typing                          string
	rate                            int
	token                           string
}

func redactDelivery(d DeliveryConfig) deliveryView {
	typing := ""
	if d.Typing != nil {
		typing = "false"
		if *d.Typing {
			typing = "true"
		}
	}
	return deliveryView{
		apiURL:  strings.TrimSpace(d.APIURL),
		country: strings.TrimSpace(d.CountryCode),
		delay:   strings.TrimSpace(d.Delay),
		timeout: strings.TrimSpace(d.Timeout),
		typing:  typing,
		rate:    d.RatePerSec,
		token:   d.Token,
	}
}
