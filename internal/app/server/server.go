// Package server は定期実行コンテナ用の小さな HTTP API です。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"review_pipeline/internal/app/job"
	"review_pipeline/internal/app/logger"
)

// Pinger は *sql.DB が満たします。
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	echo  *echo.Echo
	guard *job.Guard
	db    Pinger
	// runCtx は API から開始した実行の親です。リクエストが終わっても実行は続きます。
	runCtx context.Context
	log    *logger.Logger
}

// RunRequest は POST /runs の本文です。
type RunRequest struct {
	Week       string `json:"week"`
	Backfill   bool   `json:"backfill"`
	Weeks      int    `json:"weeks"`
	ScrapeOnly bool   `json:"scrape_only"`
	ReportOnly bool   `json:"report_only"`
}

func New(runCtx context.Context, guard *job.Guard, db Pinger, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, guard: guard, db: db, runCtx: runCtx, log: log.With("component", "api")}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogMethod: true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.log.Warn("request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			s.log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	e.GET("/healthz", s.healthz)
	e.GET("/runs/last", s.lastRun)
	e.POST("/runs", s.startRun)
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start は Shutdown されるまでブロックします。
func (s *Server) Start(addr string) error {
	s.log.Info("api listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	body := map[string]interface{}{"status": "ok"}
	if opts, running := s.guard.Running(); running {
		body["running"] = opts.ID.String()
	}
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			body["status"] = "unavailable"
			body["database"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) lastRun(c echo.Context) error {
	last, ok := s.guard.Last()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no run has finished yet")
	}
	return c.JSON(http.StatusOK, last)
}

func (s *Server) startRun(c echo.Context) error {
	var req RunRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return err
		}
	}
	opts, err := job.NewOptions(req.Week, req.Backfill, req.Weeks, req.ScrapeOnly, req.ReportOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := s.guard.Start(s.runCtx, opts)
	if errors.Is(err, job.ErrRunInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.log.Info("run requested", "run_id", id.String(), "mode", string(opts.Mode))
	return c.JSON(http.StatusAccepted, map[string]string{"id": id.String(), "mode": string(opts.Mode)})
}
