package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tunepull/internal/core"
	"tunepull/internal/orchestrator"
)

type stubService struct {
	sessions map[string]core.SessionSummary
	jobs     map[string]orchestrator.JobView

	createSessionErr error
	createJobErr     error
	cancelErr        error
	deleted          []string
}

func newStubService() *stubService {
	return &stubService{
		sessions: map[string]core.SessionSummary{},
		jobs:     map[string]orchestrator.JobView{},
	}
}

func (s *stubService) CreateSession(owner string) (core.SessionSummary, error) {
	if s.createSessionErr != nil {
		return core.SessionSummary{}, s.createSessionErr
	}
	summary := core.SessionSummary{
		ID:        "sess-1",
		Owner:     owner,
		CreatedAt: time.Now(),
		JobCounts: map[core.JobStatus]int{},
	}
	s.sessions[summary.ID] = summary
	return summary, nil
}

func (s *stubService) GetSession(id string) (core.SessionSummary, error) {
	summary, ok := s.sessions[id]
	if !ok {
		return core.SessionSummary{}, core.ErrSessionNotFound
	}
	return summary, nil
}

func (s *stubService) ListSessions() []core.SessionSummary {
	out := make([]core.SessionSummary, 0, len(s.sessions))
	for _, summary := range s.sessions {
		out = append(out, summary)
	}
	return out
}

func (s *stubService) DeleteSession(id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.sessions, id)
	return nil
}

func (s *stubService) CreateJob(sessionID string, spec core.JobSpec) (core.Job, error) {
	if s.createJobErr != nil {
		return core.Job{}, s.createJobErr
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return core.Job{}, core.ErrSessionNotFound
	}
	job := core.Job{
		ID:        "job-1",
		SessionID: sessionID,
		Spec:      spec,
		Status:    core.JobStatusPending,
		CreatedAt: time.Now(),
	}
	s.jobs[job.ID] = orchestrator.JobView{Job: job}
	return job, nil
}

func (s *stubService) GetJob(sessionID, jobID string) (orchestrator.JobView, error) {
	view, ok := s.jobs[jobID]
	if !ok || view.Job.SessionID != sessionID {
		return orchestrator.JobView{}, core.ErrJobNotFound
	}
	return view, nil
}

func (s *stubService) ListJobs(sessionID string) ([]orchestrator.JobView, error) {
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, core.ErrSessionNotFound
	}
	out := make([]orchestrator.JobView, 0, len(s.jobs))
	for _, view := range s.jobs {
		if view.Job.SessionID == sessionID {
			out = append(out, view)
		}
	}
	return out, nil
}

func (s *stubService) CancelJob(sessionID, jobID string) (core.Job, error) {
	if s.cancelErr != nil {
		return core.Job{}, s.cancelErr
	}
	view, ok := s.jobs[jobID]
	if !ok || view.Job.SessionID != sessionID {
		return core.Job{}, core.ErrJobNotFound
	}
	view.Job.Status = core.JobStatusCancelled
	s.jobs[jobID] = view
	return view.Job, nil
}

func (s *stubService) Stats() core.Stats {
	return core.Stats{
		LiveSessions: len(s.sessions),
		JobsByStatus: map[core.JobStatus]int{},
	}
}

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	srv := NewServer(svc, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, sessionID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateSession(t *testing.T) {
	svc := newStubService()
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", "",
		map[string]string{"owner": "alice"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var summary core.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Equal(t, "sess-1", summary.ID)
	require.Equal(t, "alice", summary.Owner)
}

func TestCreateSessionAtCapacity(t *testing.T) {
	svc := newStubService()
	svc.createSessionErr = core.ErrCapacityExceeded
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", "",
		map[string]string{})
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var errBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	require.Equal(t, "at_capacity", errBody["error"])
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t, newStubService())

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/nope", "", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	svc := newStubService()
	svc.sessions["sess-1"] = core.SessionSummary{ID: "sess-1"}
	ts := newTestServer(t, svc)

	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/v1/sessions/sess-1", "", nil)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	require.Equal(t, []string{"sess-1", "sess-1"}, svc.deleted)
}

func TestCreateJob(t *testing.T) {
	svc := newStubService()
	svc.sessions["sess-1"] = core.SessionSummary{ID: "sess-1"}
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/jobs", "sess-1",
		map[string]string{"url": "https://example.com/watch?v=abc"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job core.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, core.JobStatusPending, job.Status)
	require.Equal(t, "https://example.com/watch?v=abc", job.Spec.URL)
}

func TestCreateJobRequiresSessionHeader(t *testing.T) {
	ts := newTestServer(t, newStubService())

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/jobs", "",
		map[string]string{"url": "https://example.com/a"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJobErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid url", core.ErrInvalidURL, http.StatusBadRequest},
		{"session expired", core.ErrSessionExpired, http.StatusGone},
		{"job limit", core.ErrJobLimitExceeded, http.StatusTooManyRequests},
		{"rate limited", core.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newStubService()
			svc.createJobErr = tc.err
			ts := newTestServer(t, svc)

			resp := doJSON(t, http.MethodPost, ts.URL+"/v1/jobs", "sess-1",
				map[string]string{"url": "https://example.com/a"})
			resp.Body.Close()

			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestGetJobHidesForeignJobs(t *testing.T) {
	svc := newStubService()
	svc.sessions["sess-1"] = core.SessionSummary{ID: "sess-1"}
	svc.jobs["job-1"] = orchestrator.JobView{
		Job: core.Job{ID: "job-1", SessionID: "sess-2"},
	}
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/job-1", "sess-1", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJobIncludesProgress(t *testing.T) {
	svc := newStubService()
	svc.sessions["sess-1"] = core.SessionSummary{ID: "sess-1"}
	svc.jobs["job-1"] = orchestrator.JobView{
		Job: core.Job{ID: "job-1", SessionID: "sess-1", Status: core.JobStatusProcessing},
		Progress: &core.Snapshot{
			Percent:   42.5,
			Stage:     "downloading",
			UpdatedAt: time.Now(),
		},
	}
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/job-1", "sess-1", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view orchestrator.JobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.NotNil(t, view.Progress)
	require.InDelta(t, 42.5, view.Progress.Percent, 0.001)
}

func TestCancelJobConflictWhenTerminal(t *testing.T) {
	svc := newStubService()
	svc.cancelErr = core.ErrJobAlreadyTerminal
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/jobs/job-1/cancel", "sess-1", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	svc := newStubService()
	svc.sessions["sess-1"] = core.SessionSummary{ID: "sess-1"}
	ts := newTestServer(t, svc)

	resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string     `json:"status"`
		Stats  core.Stats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, 1, body.Stats.LiveSessions)
}
