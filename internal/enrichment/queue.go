package enrichment

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/model"
)

// ErrInvalidRequest marks requests naming an unknown or non-computed field.
var ErrInvalidRequest = eris.New("enrichment: invalid request")

// MissingValuePlaceholders are string values treated as absent when only
// missing values are requested.
var MissingValuePlaceholders = []string{"", "unknown", "n/a", "na", "none", "null"}

// RequestInput selects the entries to queue. Empty ItemIDs means every item
// of the list.
type RequestInput struct {
	ListID      string   `json:"listId"`
	FieldID     string   `json:"fieldId"`
	ItemIDs     []string `json:"itemIds,omitempty"`
	Priority    int      `json:"priority"`
	OnlyMissing bool     `json:"onlyMissing"`
}

// Queue creates and removes enrichment entries.
type Queue struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

// NewQueue creates a Queue. pub may be nil.
func NewQueue(store Store, pub Publisher) *Queue {
	return &Queue{store: store, pub: pub, now: time.Now}
}

// Request queues (list, field, item) entries as pending. Terminal entries
// for the same triple are replaced; entries currently processing are left
// alone. Returns the number of entries queued.
func (q *Queue) Request(ctx context.Context, in RequestInput) (int, error) {
	if in.ListID == "" || in.FieldID == "" {
		return 0, eris.Wrap(ErrInvalidRequest, "enrichment: list and field are required")
	}

	field, err := q.store.GetField(ctx, in.FieldID)
	if err != nil {
		return 0, eris.Wrap(err, "enrichment: load field")
	}
	if field == nil || field.ListID != in.ListID {
		return 0, eris.Wrapf(ErrInvalidRequest, "enrichment: field %s not found in list %s", in.FieldID, in.ListID)
	}
	if !field.IsComputed() {
		return 0, eris.Wrapf(ErrInvalidRequest, "enrichment: field %s is not computed", field.Name)
	}

	itemIDs, err := q.selectItems(ctx, in)
	if err != nil {
		return 0, err
	}
	if len(itemIDs) == 0 {
		return 0, nil
	}

	n, err := q.store.EnqueueEntries(ctx, in.ListID, in.FieldID, itemIDs, in.Priority)
	if err != nil {
		return 0, eris.Wrap(err, "enrichment: enqueue")
	}
	requestedTotal.Add(float64(n))
	zap.L().Info("enrichment: entries requested",
		zap.String("list_id", in.ListID),
		zap.String("field_id", in.FieldID),
		zap.Int("requested", len(itemIDs)),
		zap.Int("queued", n),
	)

	if q.pub != nil {
		at := q.now()
		for _, id := range itemIDs {
			q.pub.Publish(model.EnrichmentEvent{
				ListID: in.ListID, FieldID: in.FieldID, ItemID: id,
				Status: model.EnrichmentPending, At: at,
			})
		}
	}
	return n, nil
}

func (q *Queue) selectItems(ctx context.Context, in RequestInput) ([]string, error) {
	if !in.OnlyMissing {
		if len(in.ItemIDs) > 0 {
			return in.ItemIDs, nil
		}
		ids, err := q.store.ListItemIDs(ctx, in.ListID)
		return ids, eris.Wrap(err, "enrichment: list items")
	}

	missing, err := q.store.ListItemIDsMissingValue(ctx, in.ListID, in.FieldID, MissingValuePlaceholders)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: list items missing value")
	}
	if len(in.ItemIDs) == 0 {
		return missing, nil
	}

	want := make(map[string]bool, len(in.ItemIDs))
	for _, id := range in.ItemIDs {
		want[id] = true
	}
	out := missing[:0]
	for _, id := range missing {
		if want[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Stop deletes pending entries of a field so they are never claimed.
// Entries already processing run to completion. Empty itemIDs stops the
// whole field.
func (q *Queue) Stop(ctx context.Context, listID, fieldID string, itemIDs []string) (int64, error) {
	n, err := q.store.DeletePendingEntries(ctx, listID, fieldID, itemIDs)
	if err != nil {
		return 0, eris.Wrap(err, "enrichment: stop")
	}
	zap.L().Info("enrichment: stopped",
		zap.String("list_id", listID),
		zap.String("field_id", fieldID),
		zap.Int64("deleted", n),
	)
	return n, nil
}

// Clear stops the field and drops its cached values.
func (q *Queue) Clear(ctx context.Context, listID, fieldID string) (int64, error) {
	if _, err := q.Stop(ctx, listID, fieldID, nil); err != nil {
		return 0, err
	}
	n, err := q.store.ClearFieldValues(ctx, listID, fieldID)
	if err != nil {
		return 0, eris.Wrap(err, "enrichment: clear values")
	}
	return n, nil
}
