package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"therapybridge/internal/jobs"
	"therapybridge/internal/logging"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

type sessionsResponse struct {
	PatientID string           `json:"patient_id"`
	Sessions  []*store.Session `json:"sessions"`
}

// GET /health
func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{Status: "ok", Store: "ok"}
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request().Context()); err != nil {
			s.logger.Warn("health check store ping failed", logging.Error(err))
			resp.Status, resp.Store = "degraded", "unreachable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// POST /api/demo/initialize
func (s *Server) handleInitialize(c echo.Context) error {
	result, err := s.demo.Initialize(c.Request().Context())
	if err != nil {
		return s.internalError(c, "initialize", err)
	}
	return c.JSON(http.StatusCreated, result)
}

// POST /api/demo/reset
func (s *Server) handleReset(c echo.Context) error {
	result, err := s.demo.Reset(c.Request().Context(), patientID(c))
	if err != nil {
		return s.domainError(c, "reset", err)
	}
	return c.JSON(http.StatusOK, result)
}

// POST /api/demo/stop
func (s *Server) handleStop(c echo.Context) error {
	result, err := s.demo.Stop(c.Request().Context(), patientID(c))
	if err != nil {
		return s.domainError(c, "stop", err)
	}
	return c.JSON(http.StatusOK, result)
}

// GET /api/demo/status
func (s *Server) handleStatus(c echo.Context) error {
	status, err := s.demo.Status(c.Request().Context(), patientID(c))
	if err != nil {
		return s.internalError(c, "status", err)
	}
	return c.JSON(http.StatusOK, status)
}

// GET /api/sessions
func (s *Server) handleListSessions(c echo.Context) error {
	id := patientID(c)
	sessions, err := s.demo.ListSessions(c.Request().Context(), id)
	if err != nil {
		return s.internalError(c, "list sessions", err)
	}
	return c.JSON(http.StatusOK, sessionsResponse{PatientID: id, Sessions: sessions})
}

// GET /api/sessions/:id
func (s *Server) handleGetSession(c echo.Context) error {
	session, err := s.demo.GetSession(c.Request().Context(), patientID(c), c.Param("id"))
	if err != nil {
		return s.domainError(c, "get session", err)
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) domainError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return writeError(c, http.StatusNotFound, "session not found")
	case errors.Is(err, services.ErrValidation):
		return writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrAlreadyRunning):
		return writeError(c, http.StatusConflict, jobs.ErrAlreadyRunning.Error())
	default:
		return s.internalError(c, op, err)
	}
}

func (s *Server) internalError(c echo.Context, op string, err error) error {
	logging.ErrorWithContext(logging.WithContext(c.Request().Context(), s.logger), "request failed", "http_error",
		logging.String("operation", op),
		logging.Error(err),
	)
	return writeError(c, http.StatusInternalServerError, "internal error")
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, errorResponse{Error: message})
}
