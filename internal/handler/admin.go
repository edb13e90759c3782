package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"shopsync/internal/observability"
	"shopsync/internal/state"
	"shopsync/pkg/apierror"
	"shopsync/pkg/response"
)

// StateAdmin is the part of the state manager the admin routes drive.
type StateAdmin interface {
	Stats() state.Stats
	FlushNow(ctx context.Context) (state.FlushResult, error)
	Resync(ctx context.Context) error
}

// StoreStats reports backing store statistics.
type StoreStats interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// ProcessorTrigger runs one processor cycle on demand.
type ProcessorTrigger interface {
	Trigger(ctx context.Context) error
	Running() bool
}

// AdminConfig holds the dependencies of AdminHandler. Sync, Listings, Bank
// and Processor may be nil.
type AdminConfig struct {
	States    StateAdmin
	Store     StoreStats
	StoreType string
	Health    *observability.Health
	Sync      SyncInfo
	Listings  interface{ Counts() (active, completed int) }
	Bank      interface{ Holders() int }
	Processor ProcessorTrigger
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	cfg AdminConfig
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{cfg: cfg}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats["uptime"] = h.cfg.Health.Uptime().Round(time.Second).String()
	stats["memory"] = map[string]interface{}{
		"alloc_mb":       m.Alloc / 1024 / 1024,
		"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
		"sys_mb":         m.Sys / 1024 / 1024,
		"num_gc":         m.NumGC,
	}
	stats["runtime"] = map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	}

	stats["state"] = h.cfg.States.Stats()

	if h.cfg.Store != nil {
		storeStats, err := h.cfg.Store.GetStats(ctx)
		if err != nil {
			stats["store"] = map[string]interface{}{"type": h.cfg.StoreType, "error": err.Error()}
		} else {
			storeStats["type"] = h.cfg.StoreType
			stats["store"] = storeStats
		}
	}

	if h.cfg.Sync != nil {
		stats["sync"] = map[string]interface{}{
			"node_id":           h.cfg.Sync.NodeID(),
			"status":            h.cfg.Sync.Status().String(),
			"cross_node_online": len(h.cfg.Sync.CrossNodePlayerNames()),
		}
	} else {
		stats["sync"] = map[string]interface{}{"status": "disabled"}
	}

	if h.cfg.Listings != nil {
		active, completed := h.cfg.Listings.Counts()
		stats["market"] = map[string]interface{}{
			"active_listings":    active,
			"completed_listings": completed,
		}
	}
	if h.cfg.Bank != nil {
		stats["bank_holders"] = h.cfg.Bank.Holders()
	}
	if h.cfg.Processor != nil {
		stats["processor_running"] = h.cfg.Processor.Running()
	}

	response.OK(w, stats)
}

// Flush handles POST /api/v1/admin/flush. It persists every dirty record
// before returning.
func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	res, err := h.cfg.States.FlushNow(r.Context())
	if err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.OK(w, map[string]interface{}{"flushed": res, "total": res.Total()})
}

// Resync handles POST /api/v1/admin/resync. The node reports not ready
// while its state is reloaded.
func (h *AdminHandler) Resync(w http.ResponseWriter, r *http.Request) {
	wasReady := h.cfg.Health.IsReady()
	h.cfg.Health.SetReady(false)
	defer h.cfg.Health.SetReady(wasReady)

	if err := h.cfg.States.Resync(r.Context()); err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.OK(w, h.cfg.States.Stats())
}

// Process handles POST /api/v1/admin/process
func (h *AdminHandler) Process(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Processor == nil {
		response.Error(w, apierror.NotFound("processor is not running on this node"))
		return
	}
	if h.cfg.Processor.Running() {
		response.Error(w, apierror.Conflict("a processor run is already in progress"))
		return
	}
	if err := h.cfg.Processor.Trigger(r.Context()); err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.Accepted(w, map[string]interface{}{"triggered": true})
}
