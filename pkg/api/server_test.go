package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grangefarm/grange/pkg/config"
	"github.com/grangefarm/grange/pkg/manager"
	"github.com/grangefarm/grange/pkg/storage"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, requireToken bool) (*Server, *manager.Manager) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	mgr := manager.NewManagerWithStore(config.Default(), store)
	t.Cleanup(func() {
		mgr.Shutdown()
	})

	return NewServer(mgr, requireToken), mgr
}

func post(t *testing.T, s *Server, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestRegisterAgent(t *testing.T) {
	s, _ := newTestServer(t, false)

	w := post(t, s, "/v1/agents", &manager.AgentRegistration{
		Hostname: "wolf01",
		Address:  "10.0.0.1",
		Port:     50000,
		CPUs:     8,
		RAM:      4096,
	}, nil)

	require.Equal(t, http.StatusCreated, w.Code)

	var agent types.Agent
	require.NoError(t, json.NewDecoder(w.Body).Decode(&agent))
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, types.AgentOnline, agent.State)
}

func TestRegisterAgentRejectsInvalidHostname(t *testing.T) {
	s, _ := newTestServer(t, false)

	w := post(t, s, "/v1/agents", &manager.AgentRegistration{
		Hostname: "-bad-",
		Address:  "10.0.0.1",
		Port:     50000,
		CPUs:     8,
		RAM:      4096,
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterAgentTokenGate(t *testing.T) {
	s, mgr := newTestServer(t, true)

	reg := &manager.AgentRegistration{
		Hostname: "wolf01",
		Address:  "10.0.0.1",
		Port:     50000,
		CPUs:     8,
		RAM:      4096,
	}

	w := post(t, s, "/v1/agents", reg, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := mgr.Tokens().GenerateToken(time.Minute)
	require.NoError(t, err)

	w = post(t, s, "/v1/agents", reg, map[string]string{"X-Registration-Token": token.Token})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHeartbeat(t *testing.T) {
	s, mgr := newTestServer(t, false)

	agent, err := mgr.RegisterAgent(&manager.AgentRegistration{
		Hostname: "wolf01",
		Address:  "10.0.0.1",
		Port:     50000,
		CPUs:     8,
		RAM:      4096,
	})
	require.NoError(t, err)

	w := post(t, s, "/v1/agents/"+agent.ID+"/heartbeat", heartbeatRequest{
		State:   types.AgentOnline,
		FreeRAM: 2048,
	}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	updated, err := mgr.GetAgent(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2048, updated.FreeRAM)
}

func TestTaskReportOnQueuedTaskConflicts(t *testing.T) {
	s, mgr := newTestServer(t, false)

	job, err := mgr.SubmitJob(&manager.JobSubmission{
		Title: "render", User: "artist",
		Start: 1, End: 1,
	})
	require.NoError(t, err)

	tasks, err := mgr.ListTasksByJob(job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// A queued task has no agent; reporting it running is out of
	// order.
	w := post(t, s, "/v1/tasks/"+tasks[0].ID+"/started", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListEndpoints(t *testing.T) {
	s, mgr := newTestServer(t, false)

	_, err := mgr.SubmitJob(&manager.JobSubmission{
		Title: "render", User: "artist",
		Start: 1, End: 3,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var jobs []*types.Job
	require.NoError(t, json.NewDecoder(w.Body).Decode(&jobs))
	assert.Len(t, jobs, 1)
}
