package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/list-enricher/internal/model"
)

func TestTrigger_CreatesBatchAndResetsItems(t *testing.T) {
	s := newMemStore()
	seed(s, 2, nil)
	delete(s.batches, "b1")
	s.items["ai-A"].Status = model.AutomationItemSuccess
	s.listItems["l1"] = []string{"li-A", "li-B", "li-C"}
	e := newTestEngine(s, nil)

	b, err := e.Trigger(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, b.TriggeredBy)
	assert.Equal(t, 3, b.ItemsTotal, "missing item for li-C is created first")
	assert.Equal(t, model.AutomationItemPending, s.itemStatus("ai-A"))
	assert.Equal(t, model.BatchPending, s.batches[b.ID].Status)
}

func TestTrigger_NoItems(t *testing.T) {
	s := newMemStore()
	seed(s, 0, nil)
	e := newTestEngine(s, nil)

	_, err := e.Trigger(context.Background(), "a1", TriggerSchedule)
	assert.ErrorIs(t, err, ErrNoItemsInScope)
}

func TestTrigger_UnknownAutomation(t *testing.T) {
	e := newTestEngine(newMemStore(), nil)
	_, err := e.Trigger(context.Background(), "nope", "")
	assert.Error(t, err)
}

func TestTriggerItem(t *testing.T) {
	s := newMemStore()
	seed(s, 2, nil)
	s.items["ai-B"].Status = model.AutomationItemFailed
	e := newTestEngine(s, nil)

	b, err := e.TriggerItem(context.Background(), "ai-B", "")
	require.NoError(t, err)
	assert.Equal(t, 1, b.ItemsTotal)
	assert.Equal(t, model.AutomationItemPending, s.itemStatus("ai-B"))

	_, err = e.TriggerItem(context.Background(), "ai-zzz", "")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestTriggerItem_OutOfScope(t *testing.T) {
	s := newMemStore()
	seed(s, 2, nil)
	s.items["ai-B"].InScope = false
	s.items["ai-B"].Status = model.AutomationItemFailed
	e := newTestEngine(s, nil)

	_, err := e.TriggerItem(context.Background(), "ai-B", "")
	assert.ErrorIs(t, err, ErrNoItemsInScope)
	assert.Equal(t, model.AutomationItemFailed, s.itemStatus("ai-B"))
}

func TestStop_SkipsPendingItems(t *testing.T) {
	s := newMemStore()
	seed(s, 3, nil)
	s.items["ai-C"].Status = model.AutomationItemProcessing
	e := newTestEngine(s, nil)

	n, err := e.Stop(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, model.AutomationItemSkipped, s.itemStatus("ai-A"))
	assert.Equal(t, model.AutomationItemProcessing, s.itemStatus("ai-C"))
}
