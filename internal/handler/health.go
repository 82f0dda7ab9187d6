package handler

import (
	"net/http"
	"time"

	"tripgen/internal/store"
)

type ReadyChecker interface {
	IsReady() bool
}

type HealthHandler struct {
	ready ReadyChecker
	store *store.Store
}

func NewHealthHandler(ready ReadyChecker, s *store.Store) *HealthHandler {
	return &HealthHandler{
		ready: ready,
		store: s,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready      bool      `json:"ready"`
	RunCount   int       `json:"runCount"`
	ServerTime time.Time `json:"serverTime"`
}

// Readyz reports ready once zones and reference layers are loaded.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:      ready,
		RunCount:   h.store.Count(),
		ServerTime: time.Now(),
	})
}
