// Package admin is a read-only HTTP diagnostics API for operators: it
// never touches game state directly, only snapshots exposed by the
// dispatcher's Stats() method (§5's shared-resource policy — all
// mutable state is owned exclusively by the tick loop / feed path).
// Built as an Echo app with slog-based request logging middleware and
// /health, /api/stats and /api/parties routes.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// PartyStats is one party's diagnostic snapshot.
type PartyStats struct {
	ID              uint8  `json:"id"`
	State           string `json:"state"`
	ParticipantIDs  []uint8 `json:"participant_ids"`
	ForcedStepInRow int    `json:"forced_step_in_row"`
	HasTransport    bool   `json:"has_transport"`
}

// Stats is the full diagnostic snapshot the dispatcher produces on
// demand for this package; nothing in this package reaches back into
// internal/nimble or internal/transport directly.
type Stats struct {
	Parties                int          `json:"parties"`
	Participants            int          `json:"participants"`
	ParticipantCapacity     int          `json:"participant_capacity"`
	AuthoritativeWriteID    uint32       `json:"authoritative_write_id"`
	AuthoritativeBufferUsed int          `json:"authoritative_buffer_used"`
	PartyDetail             []PartyStats `json:"party_detail"`
}

// StatsFunc is the collaborator the admin server polls for each
// /api/stats request; the dispatcher supplies its own method as this
// function, keeping this package free of a direct dependency on
// internal/transport or internal/nimble's mutable types.
type StatsFunc func() Stats

// Server is the Echo diagnostics application.
type Server struct {
	echo  *echo.Echo
	stats StatsFunc
}

// New constructs the diagnostics app and registers its routes.
func New(stats StatsFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, stats: stats}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			slog.Debug("admin http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/stats", s.handleStats)
	s.echo.GET("/api/parties", s.handleParties)
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Run starts the Echo server and blocks until ctx is canceled or
// startup fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats())
}

func (s *Server) handleParties(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats().PartyDetail)
}
