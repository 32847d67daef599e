package automation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SyncResult summarizes one sync.
type SyncResult struct {
	Created int   `json:"created"`
	Deleted int64 `json:"deleted"`
}

// Syncer keeps one automation item per (automation, list item). Existing
// items keep their status and history.
type Syncer struct {
	store Store
}

// NewSyncer creates a Syncer.
func NewSyncer(store Store) *Syncer {
	return &Syncer{store: store}
}

// Sync creates PENDING, in-scope items for list items that have none and
// removes items whose list item is gone.
func (s *Syncer) Sync(ctx context.Context, automationID string) (SyncResult, error) {
	created, err := s.store.CreateMissingItems(ctx, automationID)
	if err != nil {
		return SyncResult{}, eris.Wrapf(err, "automation: sync %s", automationID)
	}
	deleted, err := s.store.DeleteOrphanedItems(ctx, automationID)
	if err != nil {
		return SyncResult{}, eris.Wrapf(err, "automation: cleanup %s", automationID)
	}
	return SyncResult{Created: created, Deleted: deleted}, nil
}

// SyncList syncs every automation of a list. It runs after extraction
// replaces a list's items.
func (s *Syncer) SyncList(ctx context.Context, listID string) error {
	ids, err := s.store.ListAutomationIDs(ctx, listID)
	if err != nil {
		return eris.Wrap(err, "automation: list automations")
	}
	var total SyncResult
	for _, id := range ids {
		r, err := s.Sync(ctx, id)
		if err != nil {
			return err
		}
		total.Created += r.Created
		total.Deleted += r.Deleted
	}
	if total.Created > 0 || total.Deleted > 0 {
		zap.L().Info("automation: synced list",
			zap.String("list_id", listID),
			zap.Int("automations", len(ids)),
			zap.Int("created", total.Created),
			zap.Int64("deleted", total.Deleted),
		)
	}
	return nil
}
