package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Components the manager cannot serve without. Readiness stays false
// until both have reported in healthy.
var requiredForReady = []string{"store", "scheduler"}

type componentState struct {
	healthy bool
	message string
	updated time.Time
}

type probeState struct {
	mu         sync.RWMutex
	components map[string]componentState
	started    time.Time
	version    string
}

var probes = &probeState{
	components: make(map[string]componentState),
	started:    time.Now(),
}

// SetVersion sets the version string reported by the probe endpoints.
func SetVersion(version string) {
	probes.mu.Lock()
	defer probes.mu.Unlock()
	probes.version = version
}

// RegisterComponent records a component's health. Components report in
// at startup and again whenever their state changes.
func RegisterComponent(name string, healthy bool, message string) {
	probes.mu.Lock()
	defer probes.mu.Unlock()
	probes.components[name] = componentState{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// probeReport is the JSON body of the /health and /ready endpoints.
type probeReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
}

func health() (probeReport, bool) {
	probes.mu.RLock()
	defer probes.mu.RUnlock()

	ok := true
	components := make(map[string]string, len(probes.components))
	for name, comp := range probes.components {
		if comp.healthy {
			components[name] = "healthy"
		} else {
			ok = false
			components[name] = "unhealthy: " + comp.message
		}
	}

	report := probeReport{
		Status:     "healthy",
		Components: components,
		Version:    probes.version,
		Uptime:     time.Since(probes.started).String(),
	}
	if !ok {
		report.Status = "unhealthy"
	}
	return report, ok
}

func readiness() (probeReport, bool) {
	probes.mu.RLock()
	defer probes.mu.RUnlock()

	ok := true
	components := make(map[string]string, len(requiredForReady))
	for _, name := range requiredForReady {
		comp, registered := probes.components[name]
		switch {
		case !registered:
			ok = false
			components[name] = "not registered"
		case !comp.healthy:
			ok = false
			components[name] = "not ready: " + comp.message
		default:
			components[name] = "ready"
		}
	}

	report := probeReport{
		Status:     "ready",
		Components: components,
		Version:    probes.version,
		Uptime:     time.Since(probes.started).String(),
	}
	if !ok {
		report.Status = "not_ready"
	}
	return report, ok
}

func writeProbe(w http.ResponseWriter, report probeReport, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// HealthHandler serves /health: 200 while every registered component
// is healthy, 503 otherwise.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok := health()
		writeProbe(w, report, ok)
	}
}

// ReadyHandler serves /ready: 200 once the store and the scheduler
// have reported in healthy.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok := readiness()
		writeProbe(w, report, ok)
	}
}

// LivenessHandler serves /live: 200 whenever the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(probes.started).String(),
		})
	}
}
