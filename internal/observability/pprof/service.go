// Package pprof serves net/http/pprof on a dedicated listener that can be
// turned on, moved or turned off while the process runs.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	logx "carebot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("pprof refused to start: non-loopback addr requires a token")

type Config struct {
	Enabled bool
	Addr    string
	Token   string
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log}
}

// Addr reports the bound address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure starts, restarts or stops the listener to match cfg. An
// unchanged config on a running server is a no-op.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil && cfg == s.cfg {
		return nil
	}
	s.stopLocked(ctx)
	s.cfg = cfg
	if !cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	return nil
}

func (s *Service) startLocked() error {
	addr := s.cfg.addr()
	token := strings.TrimSpace(s.cfg.Token)
	if token == "" && !isLoopbackAddr(addr) {
		s.log.Error("pprof refused to start", logx.String("addr", addr))
		return ErrInsecureBind
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           newHandler(token),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("pprof server exited", logx.Err(err))
		}
	}()
	s.srv, s.ln, s.done = srv, ln, done
	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", token != ""))
	return nil
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		_ = s.srv.Close()
	}
	<-s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.log.Info("pprof stopped")
}

func newHandler(token string) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if token != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:Authorization:Bearer ,query:token",
			Validator: func(key string, _ echo.Context) (bool, error) {
				return key == token, nil
			},
		}))
	}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	g := e.Group("/debug/pprof")
	g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	// Index also serves named profiles such as /debug/pprof/heap.
	g.GET("/*", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
	return e
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
