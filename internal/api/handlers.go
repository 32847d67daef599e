package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/automation"
	"github.com/sells-group/list-enricher/internal/enrichment"
	"github.com/sells-group/list-enricher/internal/extraction"
	"github.com/sells-group/list-enricher/internal/listview"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, listview.ErrUnsupportedFilter),
		errors.Is(err, listview.ErrInvalidFilterValue),
		errors.Is(err, enrichment.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, extraction.ErrNotFound),
		errors.Is(err, automation.ErrAutomationNotFound),
		errors.Is(err, automation.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, automation.ErrNoItemsInScope):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (s *Server) queryItems(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")

	var req listview.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ListID = listID

	fields, err := s.deps.Fields.ListFields(r.Context(), listID)
	if err != nil {
		fail(w, r, err)
		return
	}
	req.Fields = fields

	page, err := s.deps.Views.List(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) requestEnrichment(w http.ResponseWriter, r *http.Request) {
	var in enrichment.RequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.ListID = chi.URLParam(r, "listID")

	n, err := s.deps.Queue.Request(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": n})
}

func (s *Server) stopEnrichment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemIDs []string `json:"itemIds"`
	}
	// A body is optional; without one the whole field is stopped.
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	n, err := s.deps.Queue.Stop(r.Context(), chi.URLParam(r, "listID"), chi.URLParam(r, "fieldID"), body.ItemIDs)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": n})
}

func (s *Server) extractSource(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Extractor.ExtractSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) refreshSource(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Extractor.RefreshSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) triggerAutomation(w http.ResponseWriter, r *http.Request) {
	batch, err := s.deps.Automations.Trigger(r.Context(), chi.URLParam(r, "automationID"), automation.TriggerManual)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (s *Server) triggerAutomationItem(w http.ResponseWriter, r *http.Request) {
	batch, err := s.deps.Automations.TriggerItem(r.Context(), chi.URLParam(r, "itemID"), automation.TriggerManual)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (s *Server) stopAutomation(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Automations.Stop(r.Context(), chi.URLParam(r, "automationID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skipped": n})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	lookback := 0
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a non-negative integer")
			return
		}
		lookback = n
	}

	snap, err := s.deps.Monitor.Collect(r.Context(), lookback)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
