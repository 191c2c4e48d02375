// Package server exposes health, status and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewired-gh/breakwatch/internal/logger"
	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/rewired-gh/breakwatch/internal/monitor"
)

// AlertLister reads the alert ledger for one trading day.
type AlertLister interface {
	Alerts(ctx context.Context, day string) ([]models.AlertRecord, error)
}

// Server wraps the echo status server.
type Server struct {
	echo   *echo.Echo
	addr   string
	board  *monitor.Board
	ledger AlertLister
	loc    *time.Location
	now    func() time.Time
}

type statusResponse struct {
	Summary monitor.Summary `json:"summary"`
	Rows    []models.Row    `json:"rows"`
}

type alertsResponse struct {
	Day    string               `json:"day"`
	Alerts []models.AlertRecord `json:"alerts"`
}

// New builds the server. ledger backs /alerts, which is not served when ledger
// is nil. gatherer backs /metrics.
func New(addr string, board *monitor.Board, ledger AlertLister, gatherer prometheus.Gatherer, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(recoverMiddleware(), requestLogging())

	s := &Server{echo: e, addr: addr, board: board, ledger: ledger, loc: loc, now: time.Now}
	e.GET("/livez", s.livez)
	e.GET("/readyz", s.readyz)
	e.GET("/status", s.status)
	e.GET("/status.txt", s.statusText)
	if ledger != nil {
		e.GET("/alerts", s.alerts)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s
}

// Start listens in the background.
func (s *Server) Start() error {
	go func() {
		logger.Info("HTTP server listening on %s", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) livez(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) readyz(c echo.Context) error {
	if !s.board.Ready() {
		return c.String(http.StatusServiceUnavailable, "waiting for first poll")
	}
	return c.String(http.StatusOK, "ready")
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Summary: s.board.Summary(),
		Rows:    s.board.Rows(),
	})
}

func (s *Server) statusText(c echo.Context) error {
	return c.String(http.StatusOK, RenderTable(s.board.Rows(), s.board.Summary(), s.loc))
}

// alerts lists the ledger entries of ?day=YYYY-MM-DD, today by default.
func (s *Server) alerts(c echo.Context) error {
	day := c.QueryParam("day")
	if day == "" {
		day = models.TradingDayOf(s.now(), s.loc).Key
	} else if _, err := time.Parse(models.DayKeyLayout, day); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
	}

	records, err := s.ledger.Alerts(c.Request().Context(), day)
	if err != nil {
		logger.Error("Failed to list alerts for %s: %v", day, err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "alert ledger unavailable"})
	}
	return c.JSON(http.StatusOK, alertsResponse{Day: day, Alerts: records})
}

func recoverMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("PANIC in %s: %v\n%s", c.Request().URL.Path, r, debug.Stack())
					err = c.String(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

func requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("[%s] %s - %d (%s)", c.Request().Method, c.Request().RequestURI, c.Response().Status, time.Since(start))
			return err
		}
	}
}
