package handler

import (
	"net/http"
	"runtime"
	"slices"
	"strings"
	"time"

	"shopsync/internal/observability"
	"shopsync/internal/replication"
	"shopsync/pkg/apierror"
	"shopsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// Loader reports whether the node's state has been loaded.
type Loader interface {
	IsLoaded() bool
}

// SyncInfo describes the replication link of the node. It is nil when
// sync is disabled.
type SyncInfo interface {
	NodeID() string
	Status() replication.Status
	CrossNodePlayerNames() []string
}

// Handler contains the public health and status handlers.
type Handler struct {
	health  *observability.Health
	states  Loader
	sync    SyncInfo
	online  *replication.OnlineSet
	name    string
	version string
}

// New creates a new handler. sync may be nil.
func New(health *observability.Health, states Loader, sync SyncInfo, online *replication.OnlineSet, name, version string) *Handler {
	if online == nil {
		online = replication.NewOnlineSet()
	}
	return &Handler{
		health:  health,
		states:  states,
		sync:    sync,
		online:  online,
		name:    name,
		version: version,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    h.health.Uptime().Round(time.Second).String(),
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_ready"
}

// Ready handles GET /api/v1/ready. A node with sync enabled is ready only
// while its transport is active.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := []Check{
		{Name: "node", Status: status(h.health.IsReady())},
		{Name: "state", Status: status(h.states.IsLoaded())},
	}
	if h.sync != nil {
		checks = append(checks, Check{Name: "sync", Status: status(h.sync.Status() == replication.Active)})
	}

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	resp := ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
	if !allReady {
		response.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	response.OK(w, resp)
}

// StatusResponse describes the node.
type StatusResponse struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	NodeID     string `json:"node_id,omitempty"`
	Sync       string `json:"sync"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Name:       h.name,
		Version:    h.version,
		Sync:       "disabled",
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}
	if h.sync != nil {
		resp.NodeID = h.sync.NodeID()
		resp.Sync = h.sync.Status().String()
	}
	response.OK(w, resp)
}

// PlayersResponse lists the players online on this node and on the others.
type PlayersResponse struct {
	Local     []string `json:"local"`
	CrossNode []string `json:"cross_node"`
	All       []string `json:"all"`
}

// Players handles GET /api/v1/players
func (h *Handler) Players(w http.ResponseWriter, r *http.Request) {
	resp := PlayersResponse{Local: h.online.Names(), CrossNode: []string{}}
	if h.sync != nil {
		resp.CrossNode = h.sync.CrossNodePlayerNames()
	}
	all := slices.Concat(resp.Local, resp.CrossNode)
	slices.Sort(all)
	resp.All = slices.Compact(all)
	response.OK(w, resp)
}

// Join handles PUT /api/v1/admin/players/{name}
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if strings.TrimSpace(name) == "" {
		response.Error(w, apierror.BadRequest("player name is required"))
		return
	}
	response.OK(w, map[string]any{"joined": h.online.Join(name), "online": h.online.Len()})
}

// Leave handles DELETE /api/v1/admin/players/{name}
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.online.Leave(name) {
		response.Error(w, apierror.NotFound("player "+name+" is not online"))
		return
	}
	response.OK(w, map[string]any{"left": true, "online": h.online.Len()})
}
