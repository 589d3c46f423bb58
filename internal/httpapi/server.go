// Package httpapi exposes the management API and the delivery webhook over echo.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	logx "carebot/pkg/logx"
)

const DefaultAddr = ":3007"

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server (Echo) with recovery, CORS and request logging.
type Server struct {
	echo *echo.Echo
	addr string
	log  logx.Logger
}

func NewServer(cfg ServerConfig, log logx.Logger, handlers ...Handler) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
				logx.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	}))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr, log: log}
}

func (s *Server) Addr() string { return s.addr }

// Handler returns the underlying http.Handler (used by tests).
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Stop; a graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.addr))
	err := s.echo.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
