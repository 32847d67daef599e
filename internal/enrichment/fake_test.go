package enrichment

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/list-enricher/internal/llm"
	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/vector"
)

type enqueueCall struct {
	listID, fieldID string
	itemIDs         []string
	priority        int
}

// memStore is an in-memory Store.
type memStore struct {
	mu sync.Mutex

	fields  map[string]*model.Field
	items   map[string]*model.Item
	files   map[string]*model.File
	cache   map[string]*model.CacheEntry // itemID/fieldID
	entries map[string]*model.EnrichmentEntry

	listItems    map[string][]string
	missing      []string
	enqueued     []enqueueCall
	deleted      []string
	cleared      []string
	metadata     map[string]map[string]any
	resetCount   int64
	claimErr     error
	completeErr  error
	completeMiss bool
}

func newMemStore() *memStore {
	return &memStore{
		fields:    make(map[string]*model.Field),
		items:     make(map[string]*model.Item),
		files:     make(map[string]*model.File),
		cache:     make(map[string]*model.CacheEntry),
		entries:   make(map[string]*model.EnrichmentEntry),
		listItems: make(map[string][]string),
		metadata:  make(map[string]map[string]any),
	}
}

func cacheKey(itemID, fieldID string) string { return itemID + "/" + fieldID }

func (s *memStore) EnqueueEntries(_ context.Context, listID, fieldID string, itemIDs []string, priority int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, enqueueCall{listID, fieldID, append([]string(nil), itemIDs...), priority})
	return len(itemIDs), nil
}

func (s *memStore) ListItemIDs(_ context.Context, listID string) ([]string, error) {
	return s.listItems[listID], nil
}

func (s *memStore) ListItemIDsMissingValue(_ context.Context, _, _ string, _ []string) ([]string, error) {
	return append([]string(nil), s.missing...), nil
}

func (s *memStore) DeletePendingEntries(_ context.Context, listID, fieldID string, itemIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, listID+"/"+fieldID+"/"+strings.Join(itemIDs, ","))
	return int64(len(itemIDs)), nil
}

func (s *memStore) ClearFieldValues(_ context.Context, listID, fieldID string) (int64, error) {
	s.cleared = append(s.cleared, listID+"/"+fieldID)
	return 2, nil
}

func (s *memStore) ResetProcessingEntries(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.Status == model.EnrichmentProcessing {
			e.Status = model.EnrichmentPending
			n++
		}
	}
	s.resetCount += n
	return n, nil
}

func (s *memStore) ClaimPendingEntries(_ context.Context, limit int) ([]model.EnrichmentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var pending []*model.EnrichmentEntry
	for _, e := range s.entries {
		if e.Status == model.EnrichmentPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]model.EnrichmentEntry, len(pending))
	for i, e := range pending {
		e.Status = model.EnrichmentProcessing
		out[i] = *e
	}
	return out, nil
}

func (s *memStore) CompleteEntry(_ context.Context, entryID string, metadata map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return false, s.completeErr
	}
	e, ok := s.entries[entryID]
	if !ok || e.Status != model.EnrichmentProcessing || s.completeMiss {
		return false, nil
	}
	e.Status = model.EnrichmentCompleted
	s.metadata[entryID] = metadata
	return true, nil
}

func (s *memStore) FailEntry(_ context.Context, entryID, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.Status.Terminal() {
		return false, nil
	}
	e.Status = model.EnrichmentFailed
	e.Error = message
	return true, nil
}

func (s *memStore) GetField(_ context.Context, id string) (*model.Field, error) {
	return s.fields[id], nil
}

func (s *memStore) GetItem(_ context.Context, id string) (*model.Item, error) {
	return s.items[id], nil
}

func (s *memStore) GetFile(_ context.Context, id string) (*model.File, error) {
	return s.files[id], nil
}

func (s *memStore) GetCacheEntry(_ context.Context, itemID, fieldID string) (*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[cacheKey(itemID, fieldID)], nil
}

func (s *memStore) UpsertCacheEntry(_ context.Context, entry *model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.cache[cacheKey(entry.ItemID, entry.FieldID)] = &cp
	return nil
}

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.ChatResponse)
	return resp, args.Error(1)
}

func (m *mockLLM) EnrichedValue(ctx context.Context, req llm.EnrichRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type fakeSearcher struct {
	chunks  []vector.Chunk
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, query string, _ int, _ float64) ([]vector.Chunk, error) {
	f.queries = append(f.queries, query)
	return f.chunks, nil
}

type fakeFetcher struct {
	pages map[string]string
	err   error
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	return f.pages[url], nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.EnrichmentEvent
}

func (r *recorder) Publish(ev model.EnrichmentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) statuses(entryID string) []model.EnrichmentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EnrichmentStatus
	for _, ev := range r.events {
		if ev.EntryID == entryID {
			out = append(out, ev.Status)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
