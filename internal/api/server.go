package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"therapybridge/internal/config"
	"therapybridge/internal/demo"
	"therapybridge/internal/jobs"
	"therapybridge/internal/logging"
	"therapybridge/internal/progress"
	"therapybridge/internal/store"
)

// Demo is the demo lifecycle the handlers call.
type Demo interface {
	Initialize(ctx context.Context) (demo.Initialized, error)
	Reset(ctx context.Context, patientID string) (demo.Initialized, error)
	Stop(ctx context.Context, patientID string) (jobs.StopResult, error)
	Status(ctx context.Context, patientID string) (progress.Status, error)
	Authenticate(ctx context.Context, token string) (*store.DemoAccount, error)
	ListSessions(ctx context.Context, patientID string) ([]*store.Session, error)
	GetSession(ctx context.Context, patientID, sessionID string) (*store.Session, error)
}

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server owns the echo instance and its listener.
type Server struct {
	bind            string
	shutdownTimeout time.Duration
	echo            *echo.Echo
	demo            Demo
	pinger          Pinger
	logger          *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer wires routes and middleware.
func NewServer(cfg *config.Config, svc Demo, pinger Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:            cfg.Server.Bind,
		shutdownTimeout: cfg.ShutdownTimeout(),
		echo:            echo.New(),
		demo:            svc,
		pinger:          pinger,
		logger:          logging.NewComponentLogger(logger, "api"),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:     true,
		LogURI:        true,
		LogStatus:     true,
		LogLatency:    true,
		LogRequestID:  true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: s.logRequest,
	}))
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, headerDemoToken},
		}))
	}

	e.GET("/health", s.handleHealth)

	demoGroup := e.Group("/api/demo")
	demoGroup.POST("/initialize", s.handleInitialize)
	demoGroup.POST("/reset", s.handleReset, s.requireToken)
	demoGroup.POST("/stop", s.handleStop, s.requireToken)
	demoGroup.GET("/status", s.handleStatus, s.requireToken)

	sessions := e.Group("/api/sessions", s.requireToken)
	sessions.GET("", s.handleListSessions)
	sessions.GET("/:id", s.handleGetSession)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	attrs := []logging.Attr{
		logging.String("method", v.Method),
		logging.String("uri", v.URI),
		logging.Int("status", v.Status),
		logging.Duration("latency", v.Latency),
		logging.String(logging.FieldCorrelationID, v.RequestID),
	}
	if patientID, ok := c.Get(contextPatientKey).(string); ok {
		attrs = append(attrs, logging.String(logging.FieldPatientID, patientID))
	}
	if v.Error != nil {
		attrs = append(attrs, logging.Error(v.Error))
	}
	level := slog.LevelDebug
	if v.Status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
	return nil
}
