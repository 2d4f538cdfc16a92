// Package http provides the contextfs HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/logging"
	"github.com/fyrsmithlabs/contextfs/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	defaultSearchLimit = 5
	defaultGraphLimit  = 25
)

// Server provides HTTP endpoints for contextfs.
type Server struct {
	echo     *echo.Echo
	svc      service.API
	logger   *zap.Logger
	config   *Config
	registry *prometheus.Registry
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Meter receives request metrics. Nil uses the global meter.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(svc service.API, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, rid string) {
			// Client supplied ids that fail validation stay in the header only.
			if logging.ValidID(rid) {
				c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), rid)))
			}
		},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.With(logging.ContextFields(c.Request().Context())...).Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})
	e.Use(NewHTTPMetrics(cfg.Meter, logger).MetricsMiddleware())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newStatusCollector(svc),
	)

	s := &Server{
		echo:     e,
		svc:      svc,
		logger:   logger,
		config:   cfg,
		registry: registry,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/search", s.handleSearch)
	v1.POST("/index-file", s.handleIndexFile)
	v1.DELETE("/indexed-file", s.handleDeleteFile)
	v1.GET("/graph/entity", s.handleGraph)

	v1.POST("/maps", s.handleCreateMap)
	v1.GET("/maps", s.handleListMaps)
	v1.GET("/maps/:id", s.handleGetMap)
	v1.DELETE("/maps/:id", s.handleDeleteMap)
	v1.POST("/maps/:id/nodes", s.handleAddNode)
	v1.POST("/maps/:id/edges", s.handleCreateEdge)
}

// Echo exposes the router for embedding and tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Status(c.Request().Context()))
}

func (s *Server) handleSearch(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultSearchLimit)
	if err != nil {
		return err
	}
	results, err := s.svc.Search(c.Request().Context(), c.QueryParam("q"), limit)
	if err != nil {
		return s.toHTTPError(c, err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, NewSearchHit(r))
	}
	return c.JSON(http.StatusOK, hits)
}

func (s *Server) handleIndexFile(c echo.Context) error {
	var req IndexFileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.svc.ManuallyIndex(c.Request().Context(), req.FilePath, req.UserCaption)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	if res.Status == ingest.AlreadyClaimed {
		return c.JSON(http.StatusOK, MessageResponse{
			Status:  "in_progress",
			Message: "file is already being processed",
		})
	}
	return c.JSON(http.StatusAccepted, MessageResponse{
		Status:  "accepted",
		Message: fmt.Sprintf("%s file accepted for processing", res.Kind),
	})
}

func (s *Server) handleDeleteFile(c echo.Context) error {
	var req DeleteFileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.DeleteBySourcePath(c.Request().Context(), req.FilePath); err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Status: "deleted"})
}

func (s *Server) handleGraph(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultGraphLimit)
	if err != nil {
		return err
	}
	g, err := s.svc.GraphForEntity(c.Request().Context(), c.QueryParam("name"), limit)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleCreateMap(c echo.Context) error {
	var req CreateMapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := s.svc.CreateMap(c.Request().Context(), req.Name)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (s *Server) handleListMaps(c echo.Context) error {
	list, err := s.svc.ListMaps(c.Request().Context())
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetMap(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	data, err := s.svc.GetMap(c.Request().Context(), id)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (s *Server) handleDeleteMap(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.svc.DeleteMap(c.Request().Context(), id); err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Status: "deleted"})
}

func (s *Server) handleAddNode(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req AddNodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	node, err := s.svc.AddNode(c.Request().Context(), id, req.FilePath, req.X, req.Y)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, node)
}

func (s *Server) handleCreateEdge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req CreateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	edge, err := s.svc.CreateEdge(c.Request().Context(), id, req.SourceID, req.TargetID, req.Label)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, edge)
}

// toHTTPError maps service errors to status codes. Unexpected errors are
// logged and hidden behind a generic message.
func (s *Server) toHTTPError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, service.ErrUnsupported):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid map id")
	}
	return id, nil
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
