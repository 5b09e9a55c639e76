package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps wires the HTTP API.
type Deps struct {
	Resolve core.Resolver
	// Store is optional; without it finished runs are only served from memory.
	Store  OrderStore
	Secret []byte
	// Registry is served on /metrics; nil serves the default registry.
	Registry *prometheus.Registry
	Logger   *log.Logger
	Retain   int
}

// Server is the order API.
type Server struct {
	echo   *echo.Echo
	runs   *Runs
	cancel context.CancelFunc
	logger *log.Logger
}

// New builds the echo instance and routes.
func New(d Deps) (*Server, error) {
	if d.Resolve == nil {
		return nil, errors.New("runner resolver required")
	}
	if len(d.Secret) == 0 {
		return nil, errors.New("jwt secret not configured (server.jwt_secret)")
	}
	logger := d.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	runs, err := NewRuns(d.Retain)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
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
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	registerDocs(e)
	if d.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	} else {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	base, cancel := context.WithCancel(context.Background())
	oh := &OrdersHandler{Resolve: d.Resolve, Store: d.Store, Runs: runs, Logger: logger, Base: base}
	oh.Register(e.Group("/api/orders"), d.Secret)

	return &Server{echo: e, runs: runs, cancel: cancel, logger: logger}, nil
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = ":10002"
	}
	s.logger.Printf("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels in-flight runs and waits for
// them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	herr := s.echo.Shutdown(ctx)
	s.cancel()
	rerr := s.runs.Shutdown(ctx)
	return errors.Join(herr, rerr)
}

// ShutdownTimeout bounds graceful shutdown in the serve command.
const ShutdownTimeout = 30 * time.Second
