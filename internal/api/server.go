// Package api exposes list views, enrichment requests, extraction and
// automation triggers over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/enrichment"
	"github.com/sells-group/list-enricher/internal/extraction"
	"github.com/sells-group/list-enricher/internal/listview"
	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/monitoring"
)

// FieldLister loads the field definitions of a list.
type FieldLister interface {
	ListFields(ctx context.Context, listID string) ([]model.Field, error)
}

// Viewer serves paginated list views.
type Viewer interface {
	List(ctx context.Context, req listview.Request) (*listview.Page, error)
}

// EnrichmentQueue queues and stops enrichment entries.
type EnrichmentQueue interface {
	Request(ctx context.Context, in enrichment.RequestInput) (int, error)
	Stop(ctx context.Context, listID, fieldID string, itemIDs []string) (int64, error)
}

// Subscriber registers per-list enrichment event callbacks.
type Subscriber interface {
	Subscribe(listID string, cb enrichment.Callback) (string, func())
}

// Extractor runs list source extraction.
type Extractor interface {
	ExtractSource(ctx context.Context, sourceID string) (*extraction.BulkResult, error)
	RefreshSource(ctx context.Context, sourceID string) (*extraction.BulkResult, error)
}

// AutomationRunner starts and stops automation batches.
type AutomationRunner interface {
	Trigger(ctx context.Context, automationID, triggeredBy string) (*model.AutomationBatch, error)
	TriggerItem(ctx context.Context, automationItemID, triggeredBy string) (*model.AutomationBatch, error)
	Stop(ctx context.Context, automationID string) (int64, error)
}

// Pinger checks backing store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor summarizes recent system health.
type Monitor interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Store       Pinger
	Fields      FieldLister
	Views       Viewer
	Queue       EnrichmentQueue
	Events      Subscriber
	Extractor   Extractor
	Automations AutomationRunner
	Monitor     Monitor
}

// Server is the HTTP API.
type Server struct {
	deps      Deps
	heartbeat time.Duration
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, heartbeat: 30 * time.Second}
}

// Handler builds the router. origins configures CORS.
func (s *Server) Handler(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.Monitor != nil {
		r.Get("/status", s.status)
	}

	r.Route("/lists/{listID}", func(r chi.Router) {
		r.Post("/items/query", s.queryItems)
		r.Post("/enrichments", s.requestEnrichment)
		r.Delete("/fields/{fieldID}/enrichments", s.stopEnrichment)
		r.Get("/events", s.events)
	})
	r.Post("/sources/{sourceID}/extract", s.extractSource)
	r.Post("/sources/{sourceID}/refresh", s.refreshSource)
	r.Post("/automations/{automationID}/trigger", s.triggerAutomation)
	r.Post("/automations/{automationID}/stop", s.stopAutomation)
	r.Post("/automation-items/{itemID}/trigger", s.triggerAutomationItem)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
