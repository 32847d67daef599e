// Package extraction turns one source document into list items using the
// source's extraction strategy.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/cost"
	"github.com/sells-group/list-enricher/internal/docstore"
	"github.com/sells-group/list-enricher/internal/llm"
	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/tableparse"
)

// Configuration and data-shape errors recorded on the extraction log.
var (
	ErrNoPrompt      = eris.New("extraction: no extraction prompt configured")
	ErrNoModel       = eris.New("extraction: no language model configured")
	ErrNoWorkspace   = eris.New("extraction: source has no workspace")
	ErrNoItemsParsed = eris.New("extraction: no items found in llm response")
)

// Fallback markers stored in item metadata.
const (
	FallbackNoRows    = "no_table_rows"
	FallbackNoColumns = "no_table_columns"
)

const itemFormatInstruction = `Split the document into separate items as instructed by the user.
Return every item as a markdown section that starts with a level two heading line "## <item name>", followed by the item content.
Do not write anything before the first heading. If the document contains no matching items, return nothing.`

// Result summarizes one (source, file) extraction.
type Result struct {
	SourceID     string                   `json:"source_id"`
	ListID       string                   `json:"list_id"`
	FileID       string                   `json:"file_id"`
	Strategy     model.ExtractionStrategy `json:"strategy"`
	ItemsCreated int                      `json:"items_created"`
	ItemsDeleted int                      `json:"items_deleted"`
	Skipped      bool                     `json:"skipped,omitempty"`
	Fallback     string                   `json:"fallback,omitempty"`
	// Token usage and estimated cost of llm_prompt extraction.
	PromptTokens     int64   `json:"prompt_tokens,omitempty"`
	CompletionTokens int64   `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// Engine runs extraction strategies.
type Engine struct {
	store  Store
	docs   docstore.Store
	llm    llm.Service
	syncer ListSyncer
	cost   *cost.Calculator
	now    func() time.Time
}

// NewEngine creates an extraction engine. syncer may be nil.
func NewEngine(store Store, docs docstore.Store, svc llm.Service, syncer ListSyncer) *Engine {
	return &Engine{store: store, docs: docs, llm: svc, syncer: syncer, now: time.Now}
}

// WithCost prices llm_prompt extractions with c.
func (e *Engine) WithCost(c *cost.Calculator) *Engine {
	e.cost = c
	return e
}

// ExtractFile (re)derives the items of one file for one source. Whole-document
// extraction is a no-op when items already exist; every other strategy
// replaces them. An audit log is written for every call.
func (e *Engine) ExtractFile(ctx context.Context, sourceID, fileID string) (*Result, error) {
	res, err := e.extractOne(ctx, target{sourceID: sourceID, fileID: fileID})
	if err == nil && res.ItemsCreated > 0 {
		e.syncList(ctx, res.ListID)
	}
	return res, err
}

func (e *Engine) extract(ctx context.Context, source *model.ListSource, file *model.File) (*Result, error) {
	strategy := source.ExtractionStrategy
	if strategy == "" {
		strategy = model.StrategyPerFile
	}
	res := &Result{SourceID: source.ID, ListID: source.ListID, FileID: file.ID, Strategy: strategy}
	log := &model.ExtractionLog{
		SourceID: source.ID,
		FileID:   file.ID,
		Strategy: string(strategy),
		Input:    logInput(source, file, strategy),
	}

	var items []model.Item
	contents := make(map[string]string)
	runErr := func() error {
		if !strategy.Valid() {
			return eris.Errorf("extraction: unknown strategy %q", strategy)
		}

		existing, err := e.store.ListItemsForSourceFile(ctx, source.ID, file.ID)
		if err != nil {
			return eris.Wrap(err, "extraction: list existing items")
		}
		if len(existing) > 0 {
			if strategy == model.StrategyPerFile {
				res.Skipped = true
				return nil
			}
			if err := e.removeItems(ctx, existing); err != nil {
				return err
			}
			res.ItemsDeleted = len(existing)
		}

		items, err = e.derive(ctx, source, file, strategy, res, contents)
		if err != nil {
			return err
		}
		if err := e.store.CreateItems(ctx, items); err != nil {
			return eris.Wrap(err, "extraction: create items")
		}
		res.ItemsCreated = len(items)
		return e.writeArtifacts(ctx, items, contents)
	}()

	log.ItemsCreated = res.ItemsCreated
	if runErr != nil {
		log.Error = runErr.Error()
	} else {
		log.Output = logOutput(res, items)
	}
	log.UpdatedAt = e.now()
	if err := e.store.UpsertExtractionLog(ctx, log); err != nil {
		zap.L().Error("extraction: write extraction log",
			zap.String("source_id", source.ID),
			zap.String("file_id", file.ID),
			zap.Error(err),
		)
	}

	outcome := "created"
	switch {
	case runErr != nil:
		outcome = "error"
	case res.Skipped:
		outcome = "skipped"
	case res.Fallback != "":
		outcome = "fallback"
	}
	runsTotal.WithLabelValues(string(strategy), outcome).Inc()
	itemsCreatedTotal.WithLabelValues(string(strategy)).Add(float64(res.ItemsCreated))

	if runErr != nil {
		zap.L().Warn("extraction failed",
			zap.String("source_id", source.ID),
			zap.String("file_id", file.ID),
			zap.String("strategy", string(strategy)),
			zap.Error(runErr),
		)
		return res, runErr
	}
	zap.L().Info("extraction complete",
		zap.String("source_id", source.ID),
		zap.String("file_id", file.ID),
		zap.String("strategy", string(strategy)),
		zap.Int("items_created", res.ItemsCreated),
		zap.Int("items_deleted", res.ItemsDeleted),
		zap.Bool("skipped", res.Skipped),
		zap.String("fallback", res.Fallback),
	)
	return res, nil
}

// derive builds the items for a strategy. Artifact content is collected in
// contents keyed by item id.
func (e *Engine) derive(ctx context.Context, source *model.ListSource, file *model.File, strategy model.ExtractionStrategy, res *Result, contents map[string]string) ([]model.Item, error) {
	switch strategy {
	case model.StrategyPerFile:
		return []model.Item{e.wholeDocument(source, file, nil)}, nil

	case model.StrategyPerRow:
		md, err := e.markdown(ctx, file)
		if err != nil {
			return nil, err
		}
		rows := tableparse.ExtractRows(md)
		if len(rows) == 0 {
			res.Fallback = FallbackNoRows
			return []model.Item{e.wholeDocument(source, file, map[string]any{"fallback": FallbackNoRows})}, nil
		}
		items := make([]model.Item, 0, len(rows))
		for _, r := range rows {
			item := e.partItem(source, file, r.Index, rowName(file, r), map[string]any{
				"headers": r.Headers,
				"data":    r.Data,
			})
			contents[item.ID] = r.Markdown
			items = append(items, item)
		}
		return items, nil

	case model.StrategyPerColumn:
		md, err := e.markdown(ctx, file)
		if err != nil {
			return nil, err
		}
		cols := tableparse.ExtractColumns(md)
		if len(cols) == 0 {
			res.Fallback = FallbackNoColumns
			return []model.Item{e.wholeDocument(source, file, map[string]any{"fallback": FallbackNoColumns})}, nil
		}
		items := make([]model.Item, 0, len(cols))
		for _, c := range cols {
			item := e.partItem(source, file, c.Index, c.Name, map[string]any{
				"column":    c.Name,
				"rowTitles": c.RowTitles,
			})
			contents[item.ID] = c.Markdown
			items = append(items, item)
		}
		return items, nil

	case model.StrategyLLMPrompt:
		return e.llmItems(ctx, source, file, res, contents)
	}
	return nil, eris.Errorf("extraction: unknown strategy %q", strategy)
}

func (e *Engine) llmItems(ctx context.Context, source *model.ListSource, file *model.File, res *Result, contents map[string]string) ([]model.Item, error) {
	cfg := source.ExtractionConfig
	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, ErrNoPrompt
	}
	if cfg.LanguageModel == "" {
		return nil, ErrNoModel
	}
	if source.WorkspaceID == "" {
		return nil, ErrNoWorkspace
	}

	md, err := e.markdown(ctx, file)
	if err != nil {
		return nil, err
	}

	resp, err := e.llm.Chat(ctx, llm.ChatRequest{
		WorkspaceID: source.WorkspaceID,
		Provider:    cfg.LanguageProvider,
		ModelName:   cfg.LanguageModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: itemFormatInstruction},
			{Role: llm.RoleSystem, Content: cfg.Prompt},
			{Role: llm.RoleUser, Content: md},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extraction: llm chat")
	}
	e.recordUsage(res, cfg.LanguageModel, resp)
	if resp.Error != "" {
		return nil, eris.Errorf("extraction: llm chat: %s", resp.Error)
	}

	parsed := tableparse.ExtractLLMItems(resp.Content)
	if len(parsed) == 0 {
		return nil, ErrNoItemsParsed
	}
	items := make([]model.Item, 0, len(parsed))
	for i, p := range parsed {
		item := e.partItem(source, file, i, p.Name, map[string]any{
			"languageModel": cfg.LanguageModel,
		})
		contents[item.ID] = p.Content
		items = append(items, item)
	}
	return items, nil
}

func (e *Engine) recordUsage(res *Result, modelName string, resp *llm.ChatResponse) {
	res.PromptTokens += resp.PromptTokens
	res.CompletionTokens += resp.CompletionTokens
	llmTokensTotal.WithLabelValues("prompt").Add(float64(resp.PromptTokens))
	llmTokensTotal.WithLabelValues("completion").Add(float64(resp.CompletionTokens))
	if e.cost == nil {
		return
	}
	usd := e.cost.Claude(cost.Usage{Model: modelName, Input: resp.PromptTokens, Output: resp.CompletionTokens})
	res.CostUSD += usd
	llmCostTotal.Add(usd)
}

func (e *Engine) markdown(ctx context.Context, file *model.File) (string, error) {
	md, err := e.docs.LatestMarkdown(ctx, file.ID, file.LibraryID)
	if err != nil {
		return "", eris.Wrapf(err, "extraction: markdown for file %s", file.ID)
	}
	return md, nil
}

func (e *Engine) wholeDocument(source *model.ListSource, file *model.File, metadata map[string]any) model.Item {
	return model.Item{
		ID:           uuid.NewString(),
		ListID:       source.ListID,
		SourceID:     source.ID,
		SourceFileID: file.ID,
		LibraryID:    file.LibraryID,
		ItemName:     file.Name,
		Metadata:     metadata,
		CreatedAt:    e.now(),
	}
}

// partItem builds an item whose content lives in an artifact.
func (e *Engine) partItem(source *model.ListSource, file *model.File, index int, name string, metadata map[string]any) model.Item {
	idx := index
	if name == "" {
		name = fmt.Sprintf("%s - Part %d", file.Name, index+1)
	}
	return model.Item{
		ID:              uuid.NewString(),
		ListID:          source.ListID,
		SourceID:        source.ID,
		SourceFileID:    file.ID,
		LibraryID:       file.LibraryID,
		ExtractionIndex: &idx,
		ItemName:        name,
		Metadata:        metadata,
		CreatedAt:       e.now(),
	}
}

func (e *Engine) writeArtifacts(ctx context.Context, items []model.Item, contents map[string]string) error {
	for i := range items {
		content, ok := contents[items[i].ID]
		if !ok {
			continue
		}
		if err := e.docs.WriteItemContent(ctx, items[i].ContentKey(), content); err != nil {
			return eris.Wrapf(err, "extraction: write content for item %s", items[i].ID)
		}
	}
	return nil
}

func (e *Engine) removeItems(ctx context.Context, items []model.Item) error {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
		if items[i].IsWholeDocument() {
			continue
		}
		if err := e.docs.DeleteItemContent(ctx, items[i].ContentKey()); err != nil {
			return eris.Wrapf(err, "extraction: delete content for item %s", items[i].ID)
		}
	}
	if err := e.store.DeleteItems(ctx, ids); err != nil {
		return eris.Wrap(err, "extraction: delete items")
	}
	return nil
}

func (e *Engine) syncList(ctx context.Context, listID string) {
	if e.syncer == nil || listID == "" {
		return
	}
	if err := e.syncer.SyncList(ctx, listID); err != nil {
		zap.L().Warn("extraction: sync automation items", zap.String("list_id", listID), zap.Error(err))
	}
}

var headingRe = regexp.MustCompile(`^#{1,6}\s+`)

// rowName uses the row's first non-empty cell.
func rowName(file *model.File, r tableparse.Row) string {
	for _, v := range r.Values {
		if v = strings.TrimSpace(headingRe.ReplaceAllString(v, "")); v != "" {
			return v
		}
	}
	return fmt.Sprintf("%s - Row %d", file.Name, r.Index+1)
}

func logInput(source *model.ListSource, file *model.File, strategy model.ExtractionStrategy) map[string]any {
	in := map[string]any{
		"strategy": string(strategy),
		"fileName": file.Name,
		"listId":   source.ListID,
	}
	if strategy == model.StrategyLLMPrompt {
		in["prompt"] = source.ExtractionConfig.Prompt
		in["languageModel"] = source.ExtractionConfig.LanguageModel
	}
	return in
}

func logOutput(res *Result, items []model.Item) map[string]any {
	out := map[string]any{
		"itemsCreated": res.ItemsCreated,
		"itemsDeleted": res.ItemsDeleted,
	}
	if res.Skipped {
		out["skipped"] = "items already exist"
	}
	if res.Fallback != "" {
		out["fallback"] = res.Fallback
	}
	if res.PromptTokens > 0 || res.CompletionTokens > 0 {
		out["usage"] = map[string]any{
			"promptTokens":     res.PromptTokens,
			"completionTokens": res.CompletionTokens,
			"costUsd":          res.CostUSD,
		}
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.ItemName)
	}
	if len(names) > 0 {
		out["itemNames"] = names
	}
	return out
}

// IsConfigError reports whether err is a non-retryable configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoPrompt) || errors.Is(err, ErrNoModel) || errors.Is(err, ErrNoWorkspace)
}
