package enrichment

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/list-enricher/internal/llm"
	"github.com/sells-group/list-enricher/internal/model"
)

// Config tunes the worker loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Worker polls the queue and computes field values.
type Worker struct {
	store    Store
	llm      llm.Service
	resolver *Resolver
	pub      Publisher
	cfg      Config
	now      func() time.Time
}

// NewWorker creates a Worker. pub may be nil.
func NewWorker(store Store, svc llm.Service, resolver *Resolver, pub Publisher, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Worker{store: store, llm: svc, resolver: resolver, pub: pub, cfg: cfg, now: time.Now}
}

// Run resets entries orphaned by a previous crash and then processes the
// queue every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.store.ResetProcessingEntries(ctx)
	if err != nil {
		return eris.Wrap(err, "enrichment: reset processing entries")
	}
	if n > 0 {
		zap.L().Info("enrichment: reset orphaned entries", zap.Int64("count", n))
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.Tick(ctx); err != nil {
			zap.L().Error("enrichment: tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims up to BatchSize pending entries and processes them
// concurrently. Returns the number of entries claimed.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	entries, err := w.store.ClaimPendingEntries(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "enrichment: claim entries")
	}
	if len(entries) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range entries {
		entry := entries[i]
		g.Go(func() error {
			w.process(gctx, &entry)
			return nil
		})
	}
	_ = g.Wait()
	return len(entries), nil
}

func (w *Worker) process(ctx context.Context, entry *model.EnrichmentEntry) {
	start := w.now()
	log := zap.L().With(
		zap.String("entry_id", entry.ID),
		zap.String("list_id", entry.ListID),
		zap.String("field_id", entry.FieldID),
		zap.String("item_id", entry.ItemID),
	)
	w.publish(entry, model.EnrichmentProcessing, func(ev *model.EnrichmentEvent) {})

	cache, metadata, err := w.compute(ctx, entry)
	entryDuration.Observe(w.now().Sub(start).Seconds())
	if err != nil {
		w.fail(ctx, entry, log, err)
		return
	}

	ok, err := w.store.CompleteEntry(ctx, entry.ID, metadata)
	if err != nil {
		w.fail(ctx, entry, log, eris.Wrap(err, "enrichment: mark entry completed"))
		return
	}
	if !ok {
		log.Debug("enrichment: entry no longer processing")
	}

	outcome := "completed"
	if cache.EnrichmentErrorMessage != nil {
		outcome = "rejected"
	}
	entriesTotal.WithLabelValues(outcome).Inc()
	w.publish(entry, model.EnrichmentCompleted, func(ev *model.EnrichmentEvent) {
		ev.Value = cache.Value()
		if cache.EnrichmentErrorMessage != nil {
			ev.EnrichmentError = *cache.EnrichmentErrorMessage
		}
	})
}

// fail records err on the entry and publishes the failed event.
func (w *Worker) fail(ctx context.Context, entry *model.EnrichmentEntry, log *zap.Logger, err error) {
	entriesTotal.WithLabelValues("failed").Inc()
	log.Warn("enrichment: entry failed", zap.Error(err))
	if _, ferr := w.store.FailEntry(ctx, entry.ID, err.Error()); ferr != nil {
		log.Error("enrichment: mark entry failed", zap.Error(ferr))
	}
	w.publish(entry, model.EnrichmentFailed, func(ev *model.EnrichmentEvent) { ev.Error = err.Error() })
}

// compute resolves context, asks the model and stores the cache entry. The
// returned metadata records the task input and output.
func (w *Worker) compute(ctx context.Context, entry *model.EnrichmentEntry) (*model.CacheEntry, map[string]any, error) {
	field, err := w.store.GetField(ctx, entry.FieldID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "enrichment: load field")
	}
	if field == nil {
		return nil, nil, eris.Errorf("enrichment: field %s not found", entry.FieldID)
	}
	if !field.IsComputed() {
		return nil, nil, eris.Errorf("enrichment: field %s is not computed", field.Name)
	}
	if field.Prompt == "" {
		return nil, nil, eris.Errorf("enrichment: field %s has no prompt", field.Name)
	}
	if field.LanguageModel == "" {
		return nil, nil, eris.Errorf("enrichment: field %s has no language model", field.Name)
	}

	item, err := w.store.GetItem(ctx, entry.ItemID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "enrichment: load item")
	}
	if item == nil {
		return nil, nil, eris.Errorf("enrichment: item %s not found", entry.ItemID)
	}
	file, err := w.store.GetFile(ctx, item.SourceFileID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "enrichment: load file")
	}
	if file == nil {
		return nil, nil, eris.Errorf("enrichment: file %s not found", item.SourceFileID)
	}

	resolved, err := w.resolver.Resolve(ctx, field, item, file)
	if err != nil {
		return nil, nil, err
	}

	raw, err := w.llm.EnrichedValue(ctx, llm.EnrichRequest{
		File:          file,
		ItemName:      item.ItemName,
		LanguageModel: field.LanguageModel,
		Instruction:   field.Prompt,
		Context:       resolved.Messages,
		Options:       llm.EnrichOptions{UseMarkdown: field.UseMarkdown, DataType: field.Type},
	})
	if err != nil {
		return nil, nil, err
	}

	cache := &model.CacheEntry{ItemID: item.ID, FieldID: field.ID, UpdatedAt: w.now()}
	Place(cache, field.Type, raw, field.FailureTermList())
	if err := w.store.UpsertCacheEntry(ctx, cache); err != nil {
		return nil, nil, eris.Wrap(err, "enrichment: upsert cache entry")
	}

	issues := resolved.Issues
	if cache.EnrichmentErrorMessage != nil {
		issues = append(issues, *cache.EnrichmentErrorMessage)
	}
	metadata := map[string]any{
		"input": map[string]any{
			"fileId":             file.ID,
			"fileName":           file.Name,
			"libraryId":          file.LibraryID,
			"libraryName":        file.LibraryName,
			"fieldId":            field.ID,
			"fieldName":          field.Name,
			"failureTerms":       field.FailureTerms,
			"aiModelName":        field.LanguageModel,
			"aiModelProvider":    field.LanguageProvider,
			"aiGenerationPrompt": field.Prompt,
			"contextFields":      resolved.Fields,
			"dataType":           field.Type,
		},
		"output": map[string]any{
			"messages":      resolved.Messages,
			"similarChunks": resolved.Chunks,
			"enrichedValue": raw,
			"issues":        nonNil(issues),
		},
	}
	return cache, metadata, nil
}

func (w *Worker) publish(entry *model.EnrichmentEntry, status model.EnrichmentStatus, fill func(ev *model.EnrichmentEvent)) {
	if w.pub == nil {
		return
	}
	ev := model.EnrichmentEvent{
		EntryID: entry.ID,
		ListID:  entry.ListID,
		FieldID: entry.FieldID,
		ItemID:  entry.ItemID,
		Status:  status,
		At:      w.now(),
	}
	fill(&ev)
	w.pub.Publish(ev)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
