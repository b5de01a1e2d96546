// Package server exposes sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/metrics"
	"github.com/rcliao/agriplan/internal/session"
)

type Options struct {
	// BodyLimit caps request bodies, e.g. "12M". Photos arrive inline.
	BodyLimit string
}

type Server struct {
	e        *echo.Echo
	sessions *session.Manager
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func New(sessions *session.Manager, m *metrics.Metrics, log *logger.Logger, opts Options) *Server {
	s := &Server{
		e:        echo.New(),
		sessions: sessions,
		metrics:  m,
		log:      logger.Or(log).With("component", "http"),
	}
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	s.register(e.Group("/v1/sessions"))
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", "addr", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	if code >= 500 {
		s.log.Error("request failed", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
	} else {
		s.log.Info("request rejected", "status", code, "method", req.Method, "path", req.URL.Path, "error", msg)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

// Run starts the server and the session sweeper, and shuts both down when
// ctx is done.
func (s *Server) Run(ctx context.Context, addr string, sweepEvery, shutdownTimeout time.Duration) error {
	go s.sessions.Run(ctx, sweepEvery)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Shutdown(sctx)
	s.sessions.Close()
	return err
}
