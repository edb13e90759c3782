package observability

import (
	"sync/atomic"
	"time"
)

// Health tracks liveness and readiness of the node.
type Health struct {
	ready     atomic.Bool
	startTime time.Time
}

func NewHealth() *Health {
	return &Health{startTime: time.Now()}
}

// SetReady marks the node ready once its state is loaded.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}

func (h *Health) Uptime() time.Duration {
	return time.Since(h.startTime)
}
