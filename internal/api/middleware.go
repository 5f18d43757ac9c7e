package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"therapybridge/internal/demo"
	"therapybridge/internal/services"
)

const (
	headerDemoToken   = "X-Demo-Token"
	contextPatientKey = "patient_id"
)

// requestContext copies the echo request id into the request context so
// downstream logs carry it.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(services.WithRequestID(req.Context(), id)))
		}
		return next(c)
	}
}

// requireToken resolves the demo token to its patient and scopes the request.
func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		account, err := s.demo.Authenticate(req.Context(), demoToken(req))
		switch {
		case errors.Is(err, demo.ErrTokenExpired):
			return writeError(c, http.StatusUnauthorized, demo.ErrTokenExpired.Error())
		case errors.Is(err, demo.ErrUnauthorized):
			return writeError(c, http.StatusUnauthorized, demo.ErrUnauthorized.Error())
		case err != nil:
			return s.internalError(c, "authenticate", err)
		}
		c.Set(contextPatientKey, account.PatientID)
		c.SetRequest(req.WithContext(services.WithPatientID(req.Context(), account.PatientID)))
		return next(c)
	}
}

func demoToken(req *http.Request) string {
	if token := strings.TrimSpace(req.Header.Get(headerDemoToken)); token != "" {
		return token
	}
	auth := strings.TrimSpace(req.Header.Get(echo.HeaderAuthorization))
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

func patientID(c echo.Context) string {
	id, _ := c.Get(contextPatientKey).(string)
	return id
}
