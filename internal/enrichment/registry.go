package enrichment

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/model"
)

// Callback receives events for one list.
type Callback func(ev model.EnrichmentEvent) error

// Registry is the in-process pub/sub for enrichment progress, keyed by list.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[string]Callback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[string]Callback)}
}

// Subscribe registers cb for listID. The returned func unsubscribes.
func (r *Registry) Subscribe(listID string, cb Callback) (string, func()) {
	id := uuid.NewString()
	r.mu.Lock()
	bucket, ok := r.subs[listID]
	if !ok {
		bucket = make(map[string]Callback)
		r.subs[listID] = bucket
	}
	bucket[id] = cb
	r.mu.Unlock()
	return id, func() { r.Unsubscribe(listID, id) }
}

// Unsubscribe removes one subscription and drops the list's bucket when it
// becomes empty.
func (r *Registry) Unsubscribe(listID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.subs[listID]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(r.subs, listID)
	}
}

// Count returns the number of subscribers of a list.
func (r *Registry) Count(listID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[listID])
}

// Publish calls every subscriber of the event's list. A failing or
// panicking callback is logged and does not affect the others.
func (r *Registry) Publish(ev model.EnrichmentEvent) {
	r.mu.RLock()
	cbs := make(map[string]Callback, len(r.subs[ev.ListID]))
	for id, cb := range r.subs[ev.ListID] {
		cbs[id] = cb
	}
	r.mu.RUnlock()

	for id, cb := range cbs {
		if err := call(cb, ev); err != nil {
			zap.L().Warn("enrichment: subscriber failed",
				zap.String("list_id", ev.ListID),
				zap.String("subscription_id", id),
				zap.Error(err),
			)
		}
	}
}

func call(cb Callback, ev model.EnrichmentEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("enrichment: subscriber panic: %v", p)
		}
	}()
	return cb(ev)
}
