// Package api is the HTTP surface agents use to talk to the farm.
//
// Agents register with POST /v1/agents, send periodic heartbeats to
// /v1/agents/{id}/heartbeat, and report task execution through the
// /v1/tasks/{id}/started, /done and /failed endpoints. Read endpoints
// expose current farm state for tooling.
//
// Registration can be gated behind one-time tokens: with token
// enforcement enabled, the X-Registration-Token header must carry a
// token issued by the manager's TokenManager.
//
// Validation and cycle errors map to 400, invalid state transitions
// to 409. Everything else is a 500.
package api
