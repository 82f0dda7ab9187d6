package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"tripgen/internal/domain"
	"tripgen/internal/store"
)

const maxRequestBody = 1 << 16

type HTTPHandler struct {
	runs   *RunService
	store  *store.Store
	logger *slog.Logger
}

func NewHTTPHandler(runs *RunService, s *store.Store, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{runs: runs, store: s, logger: logger.With("component", "http")}
}

func (h *HTTPHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	var req RunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run, err := h.runs.Generate(r.Context(), req, nil)
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, run.RunSummary)
}

func (h *HTTPHandler) respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotReady):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errBadRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("run failed", "error", err)
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

type RunsResponse struct {
	Runs  []domain.RunSummary `json:"runs"`
	Count int                 `json:"count"`
}

func (h *HTTPHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	opts := store.ListOptions{Scenario: r.URL.Query().Get("scenario")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	runs := h.store.List(opts)
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	respondJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

func (h *HTTPHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	id := r.PathValue("id")
	summary, ok := h.runs.Lookup(r.Context(), id)
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type TripsResponse struct {
	RunID  string        `json:"runId"`
	Trips  []domain.Trip `json:"trips"`
	Offset int           `json:"offset"`
	Total  int           `json:"total"`
}

func (h *HTTPHandler) GetRunTrips(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	id := r.PathValue("id")
	if _, ok := h.runs.Lookup(r.Context(), id); !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	trips, ok := h.store.Trips(id)
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	offset, limit, err := paging(r, len(trips))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	total := len(trips)
	trips = trips[offset:min(offset+limit, total)]
	if trips == nil {
		trips = []domain.Trip{}
	}
	respondJSON(w, http.StatusOK, TripsResponse{RunID: id, Trips: trips, Offset: offset, Total: total})
}

func paging(r *http.Request, total int) (int, int, error) {
	offset, limit := 0, total
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = min(n, total)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = n
	}
	return offset, limit, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
