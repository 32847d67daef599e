package automation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/list-enricher/internal/connector"
	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/resilience"
)

const alreadyProcessed = "Item was already processed"

// Config tunes the engine loop.
type Config struct {
	Interval      time.Duration
	BatchSize     int
	MaxConcurrent int
	Breaker       resilience.BreakerConfig
}

// Engine polls automation batches and executes connector actions for their
// pending items.
type Engine struct {
	store      Store
	connectors *connector.Registry
	breakers   *resilience.Breakers
	cfg        Config
	now        func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store Store, connectors *connector.Registry, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	return &Engine{
		store:      store,
		connectors: connectors,
		breakers:   resilience.NewBreakers(cfg.Breaker),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Recover puts batches left RUNNING and items left PROCESSING by a crashed
// process back to PENDING.
func (e *Engine) Recover(ctx context.Context) error {
	batches, err := e.store.ResetRunningBatches(ctx)
	if err != nil {
		return eris.Wrap(err, "automation: reset running batches")
	}
	items, err := e.store.ResetProcessingItems(ctx)
	if err != nil {
		return eris.Wrap(err, "automation: reset processing items")
	}
	if batches > 0 || items > 0 {
		zap.L().Info("automation: recovered interrupted work",
			zap.Int64("batches", batches),
			zap.Int64("items", items),
		)
	}
	return nil
}

// Run recovers interrupted work and then processes batches every interval
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := e.Tick(ctx); err != nil {
			zap.L().Error("automation: tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick processes one chunk of every active batch and returns the number of
// items executed.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	batches, err := e.store.ListActiveBatches(ctx, e.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "automation: list active batches")
	}
	total := 0
	for i := range batches {
		n, err := e.processBatch(ctx, &batches[i])
		if err != nil {
			zap.L().Error("automation: batch failed",
				zap.String("batch_id", batches[i].ID),
				zap.String("automation_id", batches[i].AutomationID),
				zap.Error(err),
			)
			continue
		}
		total += n
	}
	return total, nil
}

// target is the resolved action of one automation. err is set when the
// action cannot run; every item then records it as a failure.
type target struct {
	automation *model.Automation
	connType   string
	action     *connector.Action
	config     connector.Config
	breaker    *resilience.Breaker
	mapped     []string
	fieldNames map[string]string
	err        error
}

func (e *Engine) processBatch(ctx context.Context, batch *model.AutomationBatch) (int, error) {
	if batch.Status == model.BatchPending {
		if err := e.store.MarkBatchRunning(ctx, batch.ID, e.now()); err != nil {
			return 0, eris.Wrap(err, "automation: mark batch running")
		}
		batch.Status = model.BatchRunning
	}

	items, err := e.store.ListPendingItems(ctx, batch.AutomationID, min(e.cfg.BatchSize, e.cfg.MaxConcurrent))
	if err != nil {
		return 0, eris.Wrap(err, "automation: list pending items")
	}
	if len(items) == 0 {
		return 0, e.maybeFinalize(ctx, batch)
	}

	tgt, err := e.resolve(ctx, batch.AutomationID)
	if err != nil {
		return 0, err
	}
	if tgt.breaker != nil && tgt.breaker.Open() {
		zap.L().Warn("automation: connector circuit open, deferring batch",
			zap.String("batch_id", batch.ID),
			zap.String("connector_id", tgt.automation.ConnectorID),
		)
		return 0, nil
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ListItemID
	}
	cache, err := e.store.CacheEntriesForItems(ctx, ids)
	if err != nil {
		return 0, eris.Wrap(err, "automation: load cached values")
	}

	statuses := make([]model.ExecutionStatus, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i := range items {
		g.Go(func() error {
			statuses[i] = e.processItem(gctx, batch.ID, tgt, &items[i], cache[items[i].ListItemID])
			return nil
		})
	}
	_ = g.Wait()

	var counts model.ExecutionCounts
	for _, s := range statuses {
		countStatus(&counts, s)
	}
	if err := e.store.IncrementBatchCounters(ctx, batch.ID, counts); err != nil {
		return counts.Total(), eris.Wrap(err, "automation: increment batch counters")
	}
	return counts.Total(), nil
}

func (e *Engine) maybeFinalize(ctx context.Context, batch *model.AutomationBatch) error {
	pending, err := e.store.CountPendingItems(ctx, batch.AutomationID)
	if err != nil {
		return eris.Wrap(err, "automation: count pending items")
	}
	if pending > 0 {
		return nil
	}
	counts, err := e.store.CountBatchExecutions(ctx, batch.ID)
	if err != nil {
		return eris.Wrap(err, "automation: count executions")
	}
	status := counts.FinalStatus()
	if err := e.store.FinalizeBatch(ctx, batch.ID, status, counts, e.now()); err != nil {
		return eris.Wrap(err, "automation: finalize batch")
	}
	batchesFinalized.WithLabelValues(string(status)).Inc()
	zap.L().Info("automation: batch finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", string(status)),
		zap.Int("success", counts.Success),
		zap.Int("warning", counts.Warning),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
	)
	return nil
}

// resolve loads the automation and prepares its action. Store errors abort
// the batch for this tick; configuration problems are carried in target.err.
func (e *Engine) resolve(ctx context.Context, automationID string) (*target, error) {
	a, err := e.store.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load automation")
	}
	if a == nil {
		return nil, eris.Errorf("automation: automation %s not found", automationID)
	}
	tgt := &target{automation: a, mapped: connector.MappedSourceFields(a.ActionConfig)}
	if len(tgt.mapped) > 0 {
		if tgt.fieldNames, err = e.store.FieldNames(ctx, a.ListID); err != nil {
			return nil, eris.Wrap(err, "automation: load field names")
		}
	}

	conn, err := e.store.GetConnector(ctx, a.ConnectorID)
	if err != nil {
		return nil, eris.Wrap(err, "automation: load connector")
	}
	if conn == nil {
		tgt.err = eris.Errorf("connector %s not found", a.ConnectorID)
		return tgt, nil
	}
	tgt.connType = conn.ConnectorType
	tgt.breaker = e.breakers.Get(conn.ConnectorType + ":" + conn.ID)
	if tgt.action, err = e.connectors.Action(conn.ConnectorType, a.ConnectorAction); err != nil {
		tgt.err = err
		return tgt, nil
	}
	creds, err := e.connectors.PrepareConfigForUse(conn.ConnectorType, conn.Config)
	if err != nil {
		tgt.err = err
		return tgt, nil
	}
	tgt.config = connector.Config{BaseURL: conn.BaseURL, Credentials: creds}
	return tgt, nil
}

// processItem runs the action for one item. It returns an empty status when
// the item was released back to PENDING without an execution.
func (e *Engine) processItem(ctx context.Context, batchID string, tgt *target, item *model.AutomationItem, cache []model.CacheEntry) model.ExecutionStatus {
	started := e.now()
	log := zap.L().With(
		zap.String("batch_id", batchID),
		zap.String("automation_item_id", item.ID),
		zap.String("item_id", item.ListItemID),
	)

	claimed, err := e.store.ClaimItem(ctx, item.ID)
	if err != nil {
		log.Error("automation: claim item", zap.Error(err))
		return e.fail(ctx, batchID, item, started, nil, err)
	}
	if !claimed {
		e.record(ctx, batchID, item.ID, model.ExecutionSkipped, map[string]any{},
			map[string]any{"message": alreadyProcessed}, started)
		return model.ExecutionSkipped
	}

	input := connector.Input{
		Item: connector.Item{
			ID:          item.ListItemID,
			Name:        item.ItemName,
			FieldValues: FieldValues(cache),
		},
		ActionConfig: tgt.automation.ActionConfig,
	}
	inputMap := inputRecord(input)

	if tgt.err != nil {
		return e.fail(ctx, batchID, item, started, inputMap, tgt.err)
	}

	if missing := missingFields(tgt.mapped, input.Item.FieldValues, tgt.fieldNames); len(missing) > 0 {
		if err := e.store.SetItemStatus(ctx, item.ID, model.AutomationItemSkipped); err != nil {
			log.Error("automation: set item status", zap.Error(err))
		}
		e.record(ctx, batchID, item.ID, model.ExecutionSkipped, inputMap, map[string]any{
			"message":       "Missing values for mapped fields: " + strings.Join(missing, ", "),
			"missingFields": missing,
		}, started)
		return model.ExecutionSkipped
	}

	res, err := resilience.Call(ctx, tgt.breaker, func(ctx context.Context) (connector.Result, error) {
		t0 := e.now()
		defer func() { actionDuration.WithLabelValues(tgt.connType).Observe(e.now().Sub(t0).Seconds()) }()
		return tgt.action.Execute(ctx, tgt.config, input)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		e.release(ctx, item.ID, log)
		return ""
	}
	if err != nil {
		return e.fail(ctx, batchID, item, started, inputMap, err)
	}

	itemStatus, execStatus := mapStatus(res.Status)
	if err := e.store.SetItemStatus(ctx, item.ID, itemStatus); err != nil {
		log.Error("automation: set item status", zap.Error(err))
	}
	e.record(ctx, batchID, item.ID, execStatus, inputMap, resultRecord(res), started)
	log.Debug("automation: item executed", zap.String("status", string(execStatus)))
	return execStatus
}

// release hands a claimed item back to PENDING without recording an
// execution, so a later tick runs it once the breaker closes.
func (e *Engine) release(ctx context.Context, itemID string, log *zap.Logger) {
	released, err := e.store.ReleaseItem(ctx, itemID)
	if err != nil {
		log.Error("automation: release item", zap.Error(err))
		return
	}
	if released {
		log.Info("automation: connector circuit open, item returned to pending")
	}
}

func (e *Engine) fail(ctx context.Context, batchID string, item *model.AutomationItem, started time.Time, input map[string]any, cause error) model.ExecutionStatus {
	zap.L().Warn("automation: item failed",
		zap.String("batch_id", batchID),
		zap.String("automation_item_id", item.ID),
		zap.Error(cause),
	)
	if err := e.store.SetItemStatus(ctx, item.ID, model.AutomationItemFailed); err != nil {
		zap.L().Error("automation: set item status", zap.String("automation_item_id", item.ID), zap.Error(err))
	}
	if input == nil {
		input = map[string]any{}
	}
	e.record(ctx, batchID, item.ID, model.ExecutionFailed, input, map[string]any{"error": cause.Error()}, started)
	return model.ExecutionFailed
}

func (e *Engine) record(ctx context.Context, batchID, itemID string, status model.ExecutionStatus, input, output map[string]any, started time.Time) {
	executionsTotal.WithLabelValues(string(status)).Inc()
	ex := &model.Execution{
		ID:               uuid.NewString(),
		AutomationItemID: itemID,
		BatchID:          batchID,
		Status:           status,
		Input:            input,
		Output:           output,
		StartedAt:        started,
		FinishedAt:       e.now(),
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		zap.L().Error("automation: record execution",
			zap.String("automation_item_id", itemID),
			zap.Error(err),
		)
	}
}

// FieldValues maps field id to the first populated slot of each cache entry.
// Dates are RFC 3339 strings.
func FieldValues(cache []model.CacheEntry) map[string]any {
	out := make(map[string]any, len(cache))
	for i := range cache {
		if v := cache[i].Value(); v != nil {
			out[cache[i].FieldID] = v
		}
	}
	return out
}

// missingFields returns the names of mapped fields without a usable value.
func missingFields(mapped []string, values map[string]any, names map[string]string) []string {
	var missing []string
	for _, id := range mapped {
		v, ok := values[id]
		if ok {
			if s, isStr := v.(string); !isStr || strings.TrimSpace(s) != "" {
				continue
			}
		}
		name := names[id]
		if name == "" {
			name = id
		}
		missing = append(missing, name)
	}
	return missing
}

// mapStatus converts an action outcome into item and execution statuses.
// A warning means the write happened with caveats.
func mapStatus(s connector.Status) (model.AutomationItemStatus, model.ExecutionStatus) {
	switch s {
	case connector.StatusSuccess:
		return model.AutomationItemSuccess, model.ExecutionSuccess
	case connector.StatusWarning:
		return model.AutomationItemSuccess, model.ExecutionWarning
	case connector.StatusSkipped:
		return model.AutomationItemSkipped, model.ExecutionSkipped
	}
	return model.AutomationItemFailed, model.ExecutionFailed
}

func countStatus(c *model.ExecutionCounts, s model.ExecutionStatus) {
	switch s {
	case model.ExecutionSuccess:
		c.Success++
	case model.ExecutionWarning:
		c.Warning++
	case model.ExecutionSkipped:
		c.Skipped++
	case "": // released, no execution
	default:
		c.Failed++
	}
}

func inputRecord(in connector.Input) map[string]any {
	return map[string]any{
		"item": map[string]any{
			"id":          in.Item.ID,
			"name":        in.Item.Name,
			"fieldValues": in.Item.FieldValues,
		},
		"actionConfig": in.ActionConfig,
	}
}

func resultRecord(r connector.Result) map[string]any {
	out := map[string]any{"status": string(r.Status)}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}
