package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relicadb/relica/cluster"
)

// SystemStatus is the overall health rule from the operations runbook:
// every node reachable and nothing queued is HEALTHY; an unreachable node
// with an empty queue is PARTIAL; unreachable plus queued work is DEGRADED;
// all reachable with queued work still draining is RECOVERING.
type SystemStatus string

const (
	StatusHealthy    SystemStatus = "HEALTHY"
	StatusPartial    SystemStatus = "PARTIAL"
	StatusDegraded   SystemStatus = "DEGRADED"
	StatusRecovering SystemStatus = "RECOVERING"
)

// DeriveSystemStatus applies the health rule.
func DeriveSystemStatus(allHealthy bool, pendingTotal int) SystemStatus {
	switch {
	case allHealthy && pendingTotal == 0:
		return StatusHealthy
	case !allHealthy && pendingTotal == 0:
		return StatusPartial
	case !allHealthy:
		return StatusDegraded
	default:
		return StatusRecovering
	}
}

func (h *Handlers) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	nodes := map[string]any{}
	allHealthy := true
	for id := cluster.MasterNode; id <= cluster.Slave2; id++ {
		healthy := h.checker.IsHealthy(ctx, id)
		allHealthy = allHealthy && healthy
		nodes[strconv.Itoa(int(id))] = map[string]any{
			"healthy":          healthy,
			"simulatedOffline": h.registry.IsSimulatedOffline(id),
		}
	}

	summary, err := h.queue.Status(ctx)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":       DeriveSystemStatus(allHealthy, summary.TotalPending()),
		"nodes":        nodes,
		"queuePending": summary.TotalPending(),
	})
}

func (h *Handlers) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	summary, err := h.queue.Status(ctx)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

func (h *Handlers) handleQueueDrain(w http.ResponseWriter, r *http.Request) {
	slaveID, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid node id"})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	recovered, err := h.queue.Drain(ctx, cluster.NodeID(slaveID), 100)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"recovered": recovered})
}

func (h *Handlers) handleNodeSimulate(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid node id"})
		return
	}

	var offline bool
	switch chi.URLParam(r, "state") {
	case "offline":
		offline = true
	case "online":
		offline = false
	default:
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "state must be online or offline"})
		return
	}

	if err := h.registry.SetSimulatedOffline(cluster.NodeID(nodeID), offline); err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"node": nodeID, "simulatedOffline": offline})
}

func (h *Handlers) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	h.monitor.Start(h.monitorInterval)
	writeJSONResponse(w, http.StatusOK, h.monitor.Status())
}

func (h *Handlers) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	h.monitor.Stop()
	writeJSONResponse(w, http.StatusOK, h.monitor.Status())
}

func (h *Handlers) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.monitor.Status())
}
