package automation

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/model"
)

var (
	// ErrNoItemsInScope is returned when a trigger finds nothing to run.
	ErrNoItemsInScope = eris.New("automation: no items in scope")
	// ErrAutomationNotFound is returned when triggering an unknown automation.
	ErrAutomationNotFound = eris.New("automation: automation not found")
	// ErrItemNotFound is returned by TriggerItem for an unknown automation item.
	ErrItemNotFound = eris.New("automation: automation item not found")
)

// Trigger source recorded on batches.
const (
	TriggerManual   = "MANUAL"
	TriggerSchedule = "SCHEDULE"
)

// Trigger creates a batch over every in-scope item of an automation. Items
// of list entries added since the last sync are created first.
func (e *Engine) Trigger(ctx context.Context, automationID, triggeredBy string) (*model.AutomationBatch, error) {
	a, err := e.store.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load automation")
	}
	if a == nil {
		return nil, eris.Wrapf(ErrAutomationNotFound, "automation: trigger %s", automationID)
	}
	if _, err := e.store.CreateMissingItems(ctx, automationID); err != nil {
		return nil, eris.Wrap(err, "automation: sync items")
	}
	return e.startBatch(ctx, automationID, "", triggeredBy)
}

// TriggerItem creates a batch for a single automation item.
func (e *Engine) TriggerItem(ctx context.Context, automationItemID, triggeredBy string) (*model.AutomationBatch, error) {
	item, err := e.store.GetAutomationItem(ctx, automationItemID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load automation item")
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return e.startBatch(ctx, item.AutomationID, item.ID, triggeredBy)
}

func (e *Engine) startBatch(ctx context.Context, automationID, onlyItemID, triggeredBy string) (*model.AutomationBatch, error) {
	if triggeredBy == "" {
		triggeredBy = TriggerManual
	}
	b := &model.AutomationBatch{
		ID:           uuid.NewString(),
		AutomationID: automationID,
		Status:       model.BatchPending,
		TriggeredBy:  triggeredBy,
		CreatedAt:    e.now(),
	}
	n, err := e.store.CreateBatch(ctx, b, onlyItemID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: create batch")
	}
	if n == 0 {
		return nil, ErrNoItemsInScope
	}
	zap.L().Info("automation: batch created",
		zap.String("batch_id", b.ID),
		zap.String("automation_id", automationID),
		zap.Int("items", n),
	)
	return b, nil
}

// Stop skips the automation's pending items so no further executions are
// started. Items already processing finish normally; their batches then
// finalize on the next tick.
func (e *Engine) Stop(ctx context.Context, automationID string) (int64, error) {
	n, err := e.store.CancelPendingItems(ctx, automationID)
	if err != nil {
		return 0, eris.Wrap(err, "automation: cancel pending items")
	}
	zap.L().Info("automation: stopped", zap.String("automation_id", automationID), zap.Int64("items", n))
	return n, nil
}
