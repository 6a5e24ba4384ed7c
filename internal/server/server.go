package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/federation"
	"github.com/mohammad-safakhou/scholar/internal/store"
)

// Answerer runs a question end to end.
type Answerer interface {
	Answer(ctx context.Context, q core.Query) (*federation.Answer, error)
	Domains() []federation.DomainInfo
}

// RunReader loads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (store.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// EventReader loads the published transitions of a run.
type EventReader interface {
	Transitions(ctx context.Context, runID string, limit int64) ([]federation.Transition, error)
}

// Deps are the collaborators the HTTP surface needs. Runs, Events and
// Metrics are optional; their routes answer 404 when absent.
type Deps struct {
	Answerer       Answerer
	Runs           RunReader
	Events         EventReader
	Metrics        http.Handler
	JWTSecret      []byte
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server is the echo application.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
}

// New builds the router. Without a JWT secret the API is unauthenticated.
func New(deps Deps) (*Server, error) {
	if deps.Answerer == nil {
		return nil, errors.New("server: answerer is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 10 * time.Minute
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}
	s := &Server{echo: echo.New(), deps: deps, logger: deps.Logger.Named("http")}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))

	api := s.echo.Group("/api")
	var askScope, readScope []echo.MiddlewareFunc
	if len(s.deps.JWTSecret) > 0 {
		api.Use(AuthMiddleware(s.deps.JWTSecret))
		askScope = []echo.MiddlewareFunc{RequireScopes(ScopeAsk)}
		readScope = []echo.MiddlewareFunc{RequireScopes(ScopeRead)}
	}
	api.GET("/domains", s.domains)
	api.POST("/ask", s.ask, askScope...)
	api.GET("/runs", s.listRuns, readScope...)
	api.GET("/runs/:id", s.getRun, readScope...)
	api.GET("/runs/:id/events", s.runEvents, readScope...)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) handleError(err error, c echo.Context) {
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
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}
