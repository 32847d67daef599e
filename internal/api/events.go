package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/model"
)

// eventBuffer bounds undelivered events per stream. A slow client loses
// events rather than blocking the publisher.
const eventBuffer = 64

var errStreamFull = eris.New("api: event stream full")

// events streams enrichment progress of one list as Server-Sent Events
// until the client disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	listID := chi.URLParam(r, "listID")

	ch := make(chan model.EnrichmentEvent, eventBuffer)
	_, unsubscribe := s.deps.Events.Subscribe(listID, func(ev model.EnrichmentEvent) error {
		select {
		case ch <- ev:
			return nil
		default:
			return errStreamFull
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	zap.L().Debug("api: event stream opened", zap.String("list_id", listID))

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				zap.L().Warn("api: marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Status)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			zap.L().Debug("api: event stream closed", zap.String("list_id", listID))
			return
		}
	}
}
