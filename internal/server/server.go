// Package server exposes the operational HTTP endpoints: liveness and a
// dependency self-test.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Pinger verifies reachability of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger

	backend  Pinger
	database Pinger
}

func NewServer(log *slog.Logger, addr string, backend, database Pinger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		addr:     addr,
		logger:   log.With(slog.String("service", "server")),
		backend:  backend,
		database: database,
	}
	e.GET("/ping", s.ping)
	e.HEAD("/health", s.pingHead)
	e.GET("/selftest", s.selftest)
	return s
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) pingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// selftest checks each dependency and reports per-dependency status. Any
// failure turns the response into a 503.
func (s *Server) selftest(c echo.Context) error {
	ctx := c.Request().Context()
	result := map[string]string{}
	healthy := true

	for name, dep := range map[string]Pinger{
		"assistant": s.backend,
		"database":  s.database,
	} {
		if dep == nil {
			result[name] = "skipped"
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			s.logger.Error("selftest dependency failed",
				slog.String("dependency", name), slog.Any("error", err))
			result[name] = err.Error()
			healthy = false
			continue
		}
		result[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, result)
}
