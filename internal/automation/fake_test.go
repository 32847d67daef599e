package automation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sells-group/list-enricher/internal/model"
)

// memStore is an in-memory Store.
type memStore struct {
	mu sync.Mutex

	automations map[string]*model.Automation
	connectors  map[string]*model.Connector
	batches     map[string]*model.AutomationBatch
	items       map[string]*model.AutomationItem
	itemOrder   []string
	listItems   map[string][]string // listID -> list item ids
	listNames   map[string]string   // list item id -> name
	cache       map[string][]model.CacheEntry
	fieldNames  map[string]string
	executions  []model.Execution

	// claimHook runs before a claim; tests use it to lose the race.
	claimHook func(itemID string)
}

func newMemStore() *memStore {
	return &memStore{
		automations: make(map[string]*model.Automation),
		connectors:  make(map[string]*model.Connector),
		batches:     make(map[string]*model.AutomationBatch),
		items:       make(map[string]*model.AutomationItem),
		listItems:   make(map[string][]string),
		listNames:   make(map[string]string),
		cache:       make(map[string][]model.CacheEntry),
		fieldNames:  make(map[string]string),
	}
}

func (s *memStore) addItem(it model.AutomationItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = &it
	s.itemOrder = append(s.itemOrder, it.ID)
}

func (s *memStore) itemStatus(id string) model.AutomationItemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Status
}

func (s *memStore) ResetRunningBatches(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.batches {
		if b.Status == model.BatchRunning {
			b.Status = model.BatchPending
			b.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) ResetProcessingItems(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, it := range s.items {
		if it.Status == model.AutomationItemProcessing {
			it.Status = model.AutomationItemPending
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListActiveBatches(_ context.Context, limit int) ([]model.AutomationBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AutomationBatch
	for _, b := range s.batches {
		if b.Status == model.BatchPending || b.Status == model.BatchRunning {
			out = append(out, *b)
		}
	}
	slices.SortFunc(out, func(a, b model.AutomationBatch) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkBatchRunning(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id].Status = model.BatchRunning
	s.batches[id].StartedAt = &at
	return nil
}

func (s *memStore) GetAutomation(_ context.Context, id string) (*model.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.automations[id], nil
}

func (s *memStore) GetConnector(_ context.Context, id string) (*model.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectors[id], nil
}

func (s *memStore) FieldNames(context.Context, string) (map[string]string, error) {
	return s.fieldNames, nil
}

func (s *memStore) ListPendingItems(_ context.Context, automationID string, limit int) ([]model.AutomationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AutomationItem
	for _, id := range s.itemOrder {
		it := s.items[id]
		if it.AutomationID == automationID && it.InScope && it.Status == model.AutomationItemPending {
			out = append(out, *it)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) CountPendingItems(_ context.Context, automationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.AutomationID == automationID && it.InScope && it.Status == model.AutomationItemPending {
			n++
		}
	}
	return n, nil
}

func (s *memStore) IncrementBatchCounters(_ context.Context, id string, c model.ExecutionCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	b.ItemsProcessed += c.Total()
	b.ItemsSuccess += c.Success
	b.ItemsWarning += c.Warning
	b.ItemsFailed += c.Failed
	b.ItemsSkipped += c.Skipped
	return nil
}

func (s *memStore) CountBatchExecutions(_ context.Context, id string) (model.ExecutionCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c model.ExecutionCounts
	for _, ex := range s.executions {
		if ex.BatchID == id {
			countStatus(&c, ex.Status)
		}
	}
	return c, nil
}

func (s *memStore) FinalizeBatch(_ context.Context, id string, status model.BatchStatus, c model.ExecutionCounts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[id]
	b.Status = status
	b.ItemsProcessed = b.ItemsTotal
	b.ItemsSuccess, b.ItemsWarning, b.ItemsFailed, b.ItemsSkipped = c.Success, c.Warning, c.Failed, c.Skipped
	b.FinishedAt = &at
	return nil
}

func (s *memStore) ClaimItem(_ context.Context, id string) (bool, error) {
	if s.claimHook != nil {
		s.claimHook(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[id]
	if it.Status != model.AutomationItemPending {
		return false, nil
	}
	it.Status = model.AutomationItemProcessing
	return true, nil
}

func (s *memStore) ReleaseItem(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.items[id]
	if it.Status != model.AutomationItemProcessing {
		return false, nil
	}
	it.Status = model.AutomationItemPending
	return true, nil
}

func (s *memStore) SetItemStatus(_ context.Context, id string, status model.AutomationItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id].Status = status
	return nil
}

func (s *memStore) CacheEntriesForItems(_ context.Context, ids []string) (map[string][]model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.CacheEntry, len(ids))
	for _, id := range ids {
		out[id] = s.cache[id]
	}
	return out, nil
}

func (s *memStore) CreateExecution(_ context.Context, ex *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, *ex)
	return nil
}

func (s *memStore) CreateBatch(_ context.Context, b *model.AutomationBatch, onlyItemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var selected []*model.AutomationItem
	for _, it := range s.items {
		if it.AutomationID != b.AutomationID {
			continue
		}
		if !it.InScope || (onlyItemID != "" && it.ID != onlyItemID) {
			continue
		}
		selected = append(selected, it)
	}
	if len(selected) == 0 {
		return 0, nil
	}
	for _, it := range selected {
		it.Status = model.AutomationItemPending
	}
	b.ItemsTotal = len(selected)
	cp := *b
	s.batches[b.ID] = &cp
	return len(selected), nil
}

func (s *memStore) GetAutomationItem(_ context.Context, id string) (*model.AutomationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id], nil
}

func (s *memStore) CancelPendingItems(_ context.Context, automationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, it := range s.items {
		if it.AutomationID == automationID && it.Status == model.AutomationItemPending {
			it.Status = model.AutomationItemSkipped
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreateMissingItems(_ context.Context, automationID string) (int, error) {
	s.mu.Lock()
	a := s.automations[automationID]
	s.mu.Unlock()
	if a == nil {
		return 0, nil
	}
	n := 0
	for _, liID := range s.listItems[a.ListID] {
		exists := false
		s.mu.Lock()
		for _, it := range s.items {
			if it.AutomationID == automationID && it.ListItemID == liID {
				exists = true
				break
			}
		}
		s.mu.Unlock()
		if !exists {
			s.addItem(model.AutomationItem{
				ID:           automationID + "-" + liID,
				AutomationID: automationID,
				ListItemID:   liID,
				ItemName:     s.listNames[liID],
				InScope:      true,
				Status:       model.AutomationItemPending,
			})
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListAutomationIDs(_ context.Context, listID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.automations {
		if a.ListID == listID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memStore) DeleteOrphanedItems(_ context.Context, automationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.automations[automationID]
	if a == nil {
		return 0, nil
	}
	live := s.listItems[a.ListID]
	var n int64
	for id, it := range s.items {
		if it.AutomationID == automationID && !slices.Contains(live, it.ListItemID) {
			delete(s.items, id)
			s.itemOrder = slices.DeleteFunc(s.itemOrder, func(x string) bool { return x == id })
			n++
		}
	}
	return n, nil
}

func strPtr(s string) *string { return &s }
