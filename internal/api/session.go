package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/store"
)

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, dm.Response{}, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RequestsResponse is the body of GET /api/v1/requests.
type RequestsResponse struct {
	Requests []store.Entry `json:"requests"`
	Count    int           `json:"count"`
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request journal not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing request journal", "error", err)
		writeInternalError(w, "failed to list requests")
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, RequestsResponse{Requests: entries, Count: len(entries)})
}
