package handlers

import (
	"net/http"

	"github.com/kozaktomas/gate-attendance/internal/gate"
)

// GateQueue is the pending gate-trigger queue polled by the gate controller.
type GateQueue interface {
	Drain() int
	Queue() *gate.Queue
}

// GateHandler serves the gate controller's polling endpoints.
type GateHandler struct {
	gate GateQueue
}

// NewGateHandler creates a new gate handler
func NewGateHandler(g GateQueue) *GateHandler {
	return &GateHandler{gate: g}
}

// Drain handles GET /api/v1/gate/queue/drain. The returned cycles count is the number of
// gate openings the controller should perform.
func (h *GateHandler) Drain(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"cycles": h.gate.Drain()})
}

// Pending handles GET /api/v1/gate/queue without draining it.
func (h *GateHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending := h.gate.Queue().Pending()
	if pending == nil {
		pending = []gate.Trigger{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"length":   len(pending),
		"triggers": pending,
	})
}
