package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relicadb/relica/coordinator"
	"github.com/relicadb/relica/db"
)

func (h *Handlers) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	// Decoding into CreatePayload drops any caller-supplied id: ids are
	// assigned on master under the sequence lock, never accepted from input.
	var payload coordinator.CreatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	result, err := h.coord.CreateRecord(ctx, payload)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeResultResponse(w, http.StatusCreated, result)
}

func (h *Handlers) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid record id"})
		return
	}

	var patch coordinator.UpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	result, err := h.coord.UpdateRecord(ctx, id, patch)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeResultResponse(w, http.StatusOK, result)
}

func (h *Handlers) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid record id"})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	// The country hint lets a row missing from master still be cleaned off
	// its slave after an earlier partial failure.
	result, err := h.coord.DeleteRecord(ctx, id, r.URL.Query().Get("country"))
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeResultResponse(w, http.StatusOK, result)
}

func (h *Handlers) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid record id"})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	user, err := h.coord.FindRecord(ctx, id)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, user)
}

func (h *Handlers) handleSearchByCountry(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "country query parameter is required"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	users, err := h.coord.SearchByCountry(ctx, country, limit)
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	if users == nil {
		users = []db.User{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}
