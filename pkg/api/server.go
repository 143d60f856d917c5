package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/grangefarm/grange/pkg/health"
	"github.com/grangefarm/grange/pkg/log"
	"github.com/grangefarm/grange/pkg/manager"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the HTTP surface agents talk to: registration, heartbeats
// and task execution reports, plus read endpoints for farm state.
type Server struct {
	manager      *manager.Manager
	mux          *http.ServeMux
	srv          *http.Server
	logger       zerolog.Logger
	requireToken bool
}

// NewServer creates an API server over the manager. With requireToken
// set, agent registration demands a valid one-time token in the
// X-Registration-Token header.
func NewServer(mgr *manager.Manager, requireToken bool) *Server {
	s := &Server{
		manager:      mgr,
		mux:          http.NewServeMux(),
		logger:       log.WithComponent("api"),
		requireToken: requireToken,
	}

	s.mux.HandleFunc("POST /v1/agents", s.registerAgent)
	s.mux.HandleFunc("POST /v1/agents/{id}/heartbeat", s.heartbeat)
	s.mux.HandleFunc("POST /v1/tasks/{id}/started", s.taskStarted)
	s.mux.HandleFunc("POST /v1/tasks/{id}/done", s.taskDone)
	s.mux.HandleFunc("POST /v1/tasks/{id}/failed", s.taskFailed)

	s.mux.HandleFunc("GET /v1/agents", s.listAgents)
	s.mux.HandleFunc("GET /v1/jobs", s.listJobs)
	s.mux.HandleFunc("GET /v1/jobs/{id}/tasks", s.listJobTasks)
	s.mux.HandleFunc("GET /v1/queues", s.listQueues)

	return s
}

// Start begins serving on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Stop closes the server.
func (s *Server) Stop() {
	if s.srv != nil {
		s.srv.Close()
	}
}

// Handler exposes the mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var verr *types.ValidationError
	var cerr *types.CyclicDependencyError
	var terr *types.InvalidStateTransitionError
	switch {
	case errors.As(err, &verr), errors.As(err, &cerr):
		status = http.StatusBadRequest
	case errors.As(err, &terr):
		status = http.StatusConflict
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	if s.requireToken {
		token := r.Header.Get("X-Registration-Token")
		if err := s.manager.Tokens().ValidateToken(token); err != nil {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}
	}

	var reg manager.AgentRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed registration"})
		return
	}

	agent, err := s.manager.RegisterAgent(&reg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, agent)
}

type heartbeatRequest struct {
	State    types.AgentState `json:"state"`
	FreeRAM  int              `json:"free_ram"`
	Reported time.Time        `json:"reported"`
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed heartbeat"})
		return
	}
	if req.Reported.IsZero() {
		req.Reported = time.Now()
	}

	err := s.manager.Heartbeat(&health.HeartbeatReport{
		AgentID:  r.PathValue("id"),
		State:    req.State,
		FreeRAM:  req.FreeRAM,
		Reported: req.Reported,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskReportRequest struct {
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

func (s *Server) taskReport(w http.ResponseWriter, r *http.Request, apply func(id string, req *taskReportRequest) error) {
	var req taskReportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed report"})
			return
		}
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}

	if err := apply(r.PathValue("id"), &req); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskStarted(w http.ResponseWriter, r *http.Request) {
	s.taskReport(w, r, func(id string, req *taskReportRequest) error {
		return s.manager.TaskStarted(id, req.At)
	})
}

func (s *Server) taskDone(w http.ResponseWriter, r *http.Request) {
	s.taskReport(w, r, func(id string, req *taskReportRequest) error {
		return s.manager.TaskCompleted(id, req.At)
	})
}

func (s *Server) taskFailed(w http.ResponseWriter, r *http.Request) {
	s.taskReport(w, r, func(id string, req *taskReportRequest) error {
		reason := req.Error
		if reason == "" {
			reason = "task failed"
		}
		return s.manager.TaskFailed(id, req.At, reason)
	})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.manager.ListAgents()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.manager.ListJobs()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) listJobTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.manager.ListTasksByJob(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.manager.ListQueues()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, queues)
}
