package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapybridge/internal/api"
	"therapybridge/internal/config"
	"therapybridge/internal/demo"
	"therapybridge/internal/jobs"
	"therapybridge/internal/progress"
	"therapybridge/internal/store"
	"therapybridge/internal/testsupport"
)

type stubLauncher struct {
	stopped int
}

func (l *stubLauncher) Launch(_ context.Context, patientID string, ids []string) (jobs.Ack, error) {
	return jobs.Ack{JobID: "job-" + patientID, PatientID: patientID, SessionIDs: ids}, nil
}

func (l *stubLauncher) Stop(_ context.Context, patientID string) (jobs.StopResult, error) {
	l.stopped++
	return jobs.StopResult{PatientID: patientID, JobIDs: []string{"job-" + patientID}, Stopped: 1}, nil
}

type brokenPinger struct{}

func (brokenPinger) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	cfg      *config.Config
	st       *store.Store
	launcher *stubLauncher
	now      time.Time
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Server.CORSOrigins = []string{"https://demo.example"}
	st := testsupport.MustOpenStore(t, cfg)
	f := &fixture{cfg: cfg, st: st, launcher: &stubLauncher{}, now: time.Now().UTC()}
	status := progress.NewService(st, progress.PollIntervals{Wave1: time.Second, Wave2: 3 * time.Second})
	svc := demo.NewService(st, f.launcher, status, demo.Options{
		TokenTTL: time.Hour,
		Now:      func() time.Time { return f.now },
	})
	f.handler = api.NewServer(cfg, svc, st, nil).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-Demo-Token", token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type initResponse struct {
	PatientID  string    `json:"patient_id"`
	DemoToken  string    `json:"demo_token"`
	SessionIDs []string  `json:"session_ids"`
	ExpiresAt  time.Time `json:"expires_at"`
	JobID      string    `json:"job_id"`
}

func (f *fixture) initialize(t *testing.T) initResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/demo/initialize", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp initResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestInitializeReturnsTokenAndSessions(t *testing.T) {
	f := newFixture(t)
	resp := f.initialize(t)

	assert.NotEmpty(t, resp.PatientID)
	assert.NotEmpty(t, resp.DemoToken)
	assert.Len(t, resp.SessionIDs, 10)
	assert.Equal(t, "job-"+resp.PatientID, resp.JobID)
	assert.True(t, resp.ExpiresAt.After(f.now))
}

func TestStatusRequiresToken(t *testing.T) {
	f := newFixture(t)
	resp := f.initialize(t)

	rec := f.do(t, http.MethodGet, "/api/demo/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid demo token", errorMessage(t, rec))

	rec = f.do(t, http.MethodGet, "/api/demo/status", "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.now = f.now.Add(2 * time.Hour)
	rec = f.do(t, http.MethodGet, "/api/demo/status", resp.DemoToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "demo token expired", errorMessage(t, rec))
}

func TestBearerTokenIsAccepted(t *testing.T) {
	f := newFixture(t)
	resp := f.initialize(t)

	req := httptest.NewRequest(http.MethodGet, "/api/demo/status", nil)
	req.Header.Set("Authorization", "Bearer "+resp.DemoToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusIsStableWithoutWrites(t *testing.T) {
	f := newFixture(t)
	resp := f.initialize(t)

	first := f.do(t, http.MethodGet, "/api/demo/status", resp.DemoToken)
	second := f.do(t, http.MethodGet, "/api/demo/status", resp.DemoToken)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	var status progress.Status
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &status))
	assert.Equal(t, progress.StatusPending, status.AnalysisStatus)
	assert.Equal(t, 10, status.Total)
	assert.Equal(t, 1000, status.NextPollMS)

	require.NoError(t, f.st.UpdateMood(context.Background(), resp.SessionIDs[0], 5, "flat"))
	third := f.do(t, http.MethodGet, "/api/demo/status", resp.DemoToken)
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &status))
	assert.Equal(t, progress.StatusWave1InProgress, status.AnalysisStatus)
}

func TestSessionsAreScopedToToken(t *testing.T) {
	f := newFixture(t)
	a := f.initialize(t)
	b := f.initialize(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", a.DemoToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		PatientID string           `json:"patient_id"`
		Sessions  []*store.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, a.PatientID, list.PatientID)
	require.Len(t, list.Sessions, 10)
	assert.NotEmpty(t, list.Sessions[0].Transcript)
	assert.Nil(t, list.Sessions[0].MoodScore)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+a.SessionIDs[3], a.DemoToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+b.SessionIDs[3], a.DemoToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session not found", errorMessage(t, rec))
}

func TestStopAndReset(t *testing.T) {
	f := newFixture(t)
	resp := f.initialize(t)

	rec := f.do(t, http.MethodPost, "/api/demo/stop", resp.DemoToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var stop jobs.StopResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stop))
	assert.Equal(t, 1, stop.Stopped)
	assert.Equal(t, resp.PatientID, stop.PatientID)

	require.NoError(t, f.st.UpdateMood(context.Background(), resp.SessionIDs[0], 5, "flat"))
	rec = f.do(t, http.MethodPost, "/api/demo/reset", resp.DemoToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, f.launcher.stopped)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+resp.SessionIDs[0], resp.DemoToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var session store.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Nil(t, session.MoodScore)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	status := progress.NewService(f.st, progress.PollIntervals{})
	svc := demo.NewService(f.st, f.launcher, status, demo.Options{})
	degraded := api.NewServer(f.cfg, svc, brokenPinger{}, nil).Handler()
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/demo/status", nil)
	req.Header.Set("Origin", "https://demo.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "X-Demo-Token")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://demo.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Demo-Token")
}
