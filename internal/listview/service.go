package listview

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/db"
	"github.com/sells-group/list-enricher/internal/model"
)

// Row is one item of a page with the values of the visible fields, keyed by
// field id.
type Row struct {
	ID              string            `json:"id"`
	ItemName        string            `json:"itemName"`
	SourceFileID    string            `json:"sourceFileId"`
	ExtractionIndex *int              `json:"extractionIndex"`
	Values          map[string]any    `json:"values"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// Page is one page of a list view.
type Page struct {
	Items []Row `json:"items"`
	Total int   `json:"count"`
	Skip  int   `json:"skip"`
	Take  int   `json:"take"`
}

// Service runs compiled views against Postgres.
type Service struct {
	pool     db.Pool
	compiler Compiler
}

// NewService creates a Service.
func NewService(pool db.Pool) *Service {
	return &Service{pool: pool}
}

type fileRow struct {
	name, libraryName               string
	originURI, mimeType, crawlerURI *string
	size                            *int64
	originModified, processedAt     *time.Time
}

// List returns one page of the view and the total number of matches.
// Cached values of the page's items are loaded in one query.
func (s *Service) List(ctx context.Context, req Request) (*Page, error) {
	q, err := s.compiler.Compile(req)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: []Row{}, Skip: q.Skip, Take: q.Take}
	if err := s.pool.QueryRow(ctx, q.CountSQL, q.CountArgs...).Scan(&page.Total); err != nil {
		return nil, eris.Wrap(err, "listview: count")
	}

	rows, err := s.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, eris.Wrap(err, "listview: query")
	}
	defer rows.Close()

	var files []fileRow
	for rows.Next() {
		var r Row
		var f fileRow
		var itemName *string
		if err := rows.Scan(
			&r.ID, &itemName, &r.SourceFileID, &r.ExtractionIndex,
			&f.name, &f.originURI, &f.mimeType, &f.size, &f.libraryName, &f.crawlerURI,
			&f.originModified, &f.processedAt,
		); err != nil {
			return nil, eris.Wrap(err, "listview: scan row")
		}
		if itemName != nil {
			r.ItemName = *itemName
		}
		page.Items = append(page.Items, r)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "listview: iterate rows")
	}

	var computed []string
	for i := range req.Fields {
		if req.Fields[i].IsComputed() {
			computed = append(computed, req.Fields[i].ID)
		}
	}
	cache, err := s.cacheValues(ctx, page.Items, computed)
	if err != nil {
		return nil, err
	}

	for i := range page.Items {
		row := &page.Items[i]
		row.Values = make(map[string]any, len(req.Fields))
		for j := range req.Fields {
			field := &req.Fields[j]
			if !field.IsComputed() {
				row.Values[field.ID] = fileValue(field.FileProperty, row, &files[i])
				continue
			}
			entry, ok := cache[row.ID][field.ID]
			if !ok {
				row.Values[field.ID] = nil
				continue
			}
			row.Values[field.ID] = entry.Value()
			if entry.EnrichmentErrorMessage != nil {
				if row.Errors == nil {
					row.Errors = make(map[string]string)
				}
				row.Errors[field.ID] = *entry.EnrichmentErrorMessage
			}
		}
	}

	zap.L().Debug("listview: page served",
		zap.String("list_id", req.ListID),
		zap.Int("filters", len(req.Filters)),
		zap.Int("items", len(page.Items)),
		zap.Int("total", page.Total),
	)
	return page, nil
}

func (s *Service) cacheValues(ctx context.Context, items []Row, fieldIDs []string) (map[string]map[string]*model.CacheEntry, error) {
	out := make(map[string]map[string]*model.CacheEntry)
	if len(items) == 0 || len(fieldIDs) == 0 {
		return out, nil
	}
	itemIDs := make([]string, len(items))
	for i := range items {
		itemIDs[i] = items[i].ID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT item_id, field_id, value_string, value_number, value_boolean, value_date, enrichment_error_message
		 FROM list_item_cache WHERE item_id = ANY($1) AND field_id = ANY($2)`,
		itemIDs, fieldIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "listview: load cache")
	}
	defer rows.Close()

	for rows.Next() {
		var e model.CacheEntry
		if err := rows.Scan(&e.ItemID, &e.FieldID, &e.ValueString, &e.ValueNumber, &e.ValueBoolean, &e.ValueDate, &e.EnrichmentErrorMessage); err != nil {
			return nil, eris.Wrap(err, "listview: scan cache")
		}
		if out[e.ItemID] == nil {
			out[e.ItemID] = make(map[string]*model.CacheEntry)
		}
		out[e.ItemID][e.FieldID] = &e
	}
	return out, eris.Wrap(rows.Err(), "listview: iterate cache")
}

func fileValue(p model.FileProperty, row *Row, f *fileRow) any {
	switch p {
	case model.FilePropertyName:
		return f.name
	case model.FilePropertySource:
		return f.libraryName
	case model.FilePropertyItemName:
		return row.ItemName
	case model.FilePropertyOriginURI:
		return deref(f.originURI)
	case model.FilePropertyMimeType:
		return deref(f.mimeType)
	case model.FilePropertyCrawlerURL:
		return deref(f.crawlerURI)
	case model.FilePropertySize:
		if f.size == nil {
			return nil
		}
		return *f.size
	case model.FilePropertyProcessedAt:
		return timeValue(f.processedAt)
	case model.FilePropertyOriginModificationDate:
		return timeValue(f.originModified)
	}
	return nil
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
