// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/moodsense/moodsense/analysis"
	"github.com/moodsense/moodsense/analysis/metrics"
	"github.com/moodsense/moodsense/analysis/pattern"
	"github.com/moodsense/moodsense/internal/profile"
	"github.com/moodsense/moodsense/internal/version"
)

// Server is the HTTP front for the analysis service.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile
	service *analysis.Service
	engine  *pattern.Engine
	metrics *metrics.Exporter
	logger  *slog.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(p *profile.Profile, svc *analysis.Service, engine *pattern.Engine, exporter *metrics.Exporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		e:       e,
		profile: p,
		service: svc,
		engine:  engine,
		metrics: exporter,
		logger:  logger,
	}

	e.GET("/healthz", s.health)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	api := e.Group("/api/v1")
	api.POST("/analyze", s.analyze)
	api.POST("/events/:name", s.handleEvent)
	api.GET("/stats", s.stats)
	api.GET("/cache/stats", s.cacheStats)

	admin := api.Group("/admin")
	admin.POST("/patterns", s.addPattern)
	admin.DELETE("/patterns/:id", s.removePattern)
	admin.PUT("/users/:id/weights", s.setUserWeights)

	return s
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	s.logger.Info("http server starting", "addr", addr, "mode", s.profile.Mode)
	return s.e.Start(addr)
}

// Shutdown drains in-flight requests with a deadline.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown failed", "error", err)
	}
}

// health reports liveness. Clients may pass ?min_version= to verify the
// backend is new enough for them before syncing.
func (s *Server) health(c echo.Context) error {
	if min := c.QueryParam("min_version"); min != "" {
		if !version.IsVersionGreaterOrEqualThan(s.profile.Version, min) {
			return c.JSON(http.StatusConflict, map[string]string{
				"status":  "outdated",
				"version": s.profile.Version,
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
	})
}

func (s *Server) analyze(c echo.Context) error {
	var in analysis.Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	res, err := s.service.Analyze(c.Request().Context(), in)
	if err != nil {
		var verr *analysis.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleEvent(c echo.Context) error {
	event := c.Param("name")
	userID := c.QueryParam("user_id")
	invalidated := s.service.HandleEvent(c.Request().Context(), event, userID)
	return c.JSON(http.StatusOK, map[string]any{
		"event":       event,
		"invalidated": invalidated,
	})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Stats())
}

func (s *Server) cacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.CacheStats())
}

func (s *Server) addPattern(c echo.Context) error {
	var spec pattern.Spec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed pattern spec").SetInternal(err)
	}
	if err := s.engine.AddPattern(spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": spec.ID})
}

func (s *Server) removePattern(c echo.Context) error {
	id := c.Param("id")
	if !s.engine.RemovePattern(id) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("pattern %q not found", id))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setUserWeights(c echo.Context) error {
	userID := c.Param("id")
	var weights map[string]float64
	if err := c.Bind(&weights); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed weights").SetInternal(err)
	}
	s.engine.SetUserWeights(userID, weights)
	return c.JSON(http.StatusOK, map[string]any{
		"user_id": userID,
		"weights": len(weights),
	})
}
