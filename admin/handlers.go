package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relicadb/relica/cluster"
	"github.com/relicadb/relica/coordinator"
	"github.com/relicadb/relica/db"
	"github.com/relicadb/relica/health"
	"github.com/relicadb/relica/recovery"
)

// Handlers serves the coordinator's HTTP API.
type Handlers struct {
	registry        *cluster.Registry
	coord           *coordinator.Coordinator
	queue           *recovery.Queue
	monitor         *recovery.Monitor
	checker         *health.Checker
	monitorInterval time.Duration
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(registry *cluster.Registry, coord *coordinator.Coordinator, queue *recovery.Queue,
	monitor *recovery.Monitor, checker *health.Checker, monitorInterval time.Duration) *Handlers {
	return &Handlers{
		registry:        registry,
		coord:           coord,
		queue:           queue,
		monitor:         monitor,
		checker:         checker,
		monitorInterval: monitorInterval,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse maps a coordinator error to an HTTP status
func writeErrorResponse(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coordinator.ErrMissingShardKey),
		errors.Is(err, coordinator.ErrImmutableShardKey),
		isRoutingError(err):
		status = http.StatusBadRequest
	}
	writeJSONResponse(w, status, map[string]any{"error": err.Error()})
}

func isRoutingError(err error) bool {
	var routingErr *cluster.InvalidRoutingError
	var unknownErr *cluster.UnknownNodeError
	return errors.As(err, &routingErr) || errors.As(err, &unknownErr)
}

// writeResultResponse renders a coordinated write outcome, surfacing the
// degraded path through the queuedForPartition field.
func writeResultResponse(w http.ResponseWriter, status int, result *coordinator.WriteResult) {
	resp := map[string]any{
		"state": result.State,
	}
	if result.User != nil {
		resp["user"] = result.User
	}
	if result.Degraded() {
		resp["queuedForPartition"] = int(result.QueuedForPartition)
	}
	writeJSONResponse(w, status, resp)
}

const requestTimeout = 10 * time.Second

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
