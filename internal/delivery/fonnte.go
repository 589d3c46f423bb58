package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"carebot/internal/phone"
	logx "carebot/pkg/logx"
)

const (
	DefaultAPIURL      = "https://api.fonnte.com/send"
	DefaultCountryCode = "62"
	DefaultDelay       = "1-3"
	DefaultTimeout     = 15 * time.Second

	maxErrBody = 4 << 10
)

type FonnteConfig struct {
	APIURL      string
	Token       string
	CountryCode string
	Typing      *bool
	Delay       string
	RatePerSec  int
	Timeout     time.Duration
}

// Fonnte is a Sender backed by the Fonnte HTTP API.
type Fonnte struct {
	apiURL      string
	token       string
	countryCode string
	typing      bool
	delay       string
	hc          *http.Client
	limiter     *rate.Limiter
	log         logx.Logger
}

func NewFonnte(cfg FonnteConfig, hc *http.Client, log logx.Logger) *Fonnte {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fonnte{
		apiURL:      strings.TrimSpace(cfg.APIURL),
		token:       strings.TrimSpace(cfg.Token),
		countryCode: strings.TrimSpace(cfg.CountryCode),
		typing:      true,
		delay:       strings.TrimSpace(cfg.Delay),
		hc:          hc,
		log:         log,
	}
	if f.apiURL == "" {
		f.apiURL = DefaultAPIURL
	}
	if f.countryCode == "" {
		f.countryCode = DefaultCountryCode
	}
	if cfg.Typing != nil {
		f.typing = *cfg.Typing
	}
	if f.delay == "" {
		f.delay = DefaultDelay
	}
	if f.hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		f.hc = &http.Client{Timeout: timeout}
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return f
}

type fonnteResponse struct {
	Status bool              `json:"status"`
	ID     []json.RawMessage `json:"id"`
	Reason string            `json:"reason"`
	Detail string            `json:"detail"`
}

func (r fonnteResponse) providerID() string {
	if len(r.ID) == 0 {
		return ""
	}
	return strings.Trim(string(r.ID[0]), `"`)
}

func (r fonnteResponse) errorText() string {
	switch {
	case r.Reason != "":
		return r.Reason
	case r.Detail != "":
		return r.Detail
	default:
		return "Unknown error"
	}
}

func (f *Fonnte) Send(ctx context.Context, target, message string) Result {
	if f.token == "" {
		f.log.Error("delivery token not configured")
		return failed(ErrNotConfigured)
	}
	to := phone.StripPlus(target)
	if to == "" {
		return failed("empty target")
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return failed(fmt.Sprintf("rate limit wait: %v", err))
	}

	form := url.Values{}
	form.Set("target", to)
	form.Set("message", message)
	form.Set("countryCode", f.countryCode)
	form.Set("typing", strconv.FormatBool(f.typing))
	form.Set("delay", f.delay)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return failed(err.Error())
	}
	req.Header.Set("Authorization", f.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := f.hc.Do(req)
	if err != nil {
		f.log.Warn("delivery request failed", logx.String("target", to), logx.Err(err))
		return failed(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	if err != nil {
		return failed(fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		f.log.Warn("delivery rejected", logx.String("target", to), logx.Int("status", resp.StatusCode))
		return failed(msg)
	}

	var out fonnteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return failed(fmt.Sprintf("decode response: %v", err))
	}
	if !out.Status {
		f.log.Warn("delivery refused by provider", logx.String("target", to), logx.String("reason", out.errorText()))
		return failed(out.errorText())
	}
	id := out.providerID()
	f.log.Info("message delivered", logx.String("target", to), logx.String("provider_id", id), logx.Duration("took", time.Since(start)))
	return Result{Delivered: true, ProviderID: id}
}
