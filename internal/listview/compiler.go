// Package listview compiles typed filters and sorts over list fields into a
// single parameterized query and serves paginated list views.
package listview

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/enrichment"
	"github.com/sells-group/list-enricher/internal/model"
)

var (
	// ErrInvalidFilterValue is returned when a filter value does not parse
	// for the field's type.
	ErrInvalidFilterValue = eris.New("listview: invalid filter value")
	// ErrUnsupportedFilter is returned for filter types the field's type
	// does not support, and for unknown fields.
	ErrUnsupportedFilter = eris.New("listview: unsupported filter")
)

// FilterType is a filter operator.
type FilterType string

const (
	FilterEquals      FilterType = "equals"
	FilterNotEquals   FilterType = "not_equals"
	FilterContains    FilterType = "contains"
	FilterNotContains FilterType = "not_contains"
	FilterStartsWith  FilterType = "starts_with"
	FilterEndsWith    FilterType = "ends_with"
	FilterIsEmpty     FilterType = "is_empty"
	FilterIsNotEmpty  FilterType = "is_not_empty"
)

// Filter restricts the view to items whose field value matches.
type Filter struct {
	FieldID    string     `json:"fieldId"`
	FilterType FilterType `json:"filterType"`
	Value      string     `json:"value"`
}

// Sort orders the view by one field.
type Sort struct {
	FieldID   string `json:"fieldId"`
	Direction string `json:"direction"`
}

// Request describes one page of a list view.
type Request struct {
	ListID       string        `json:"listId"`
	Fields       []model.Field `json:"-"`
	Filters      []Filter      `json:"filters"`
	Sorts        []Sort        `json:"sorting"`
	Skip         int           `json:"skip"`
	Take         int           `json:"take"`
	ShowArchived bool          `json:"showArchived"`
}

// Query is a compiled view. CountSQL shares the filter predicate but has no
// ordering or pagination.
type Query struct {
	SQL       string
	Args      []any
	CountSQL  string
	CountArgs []any
	Take      int
	Skip      int
}

const (
	defaultTake = 50
	maxTake     = 500
)

// selectColumns is the fixed projection of every page row.
const selectColumns = `i.id, i.item_name, i.source_file_id, i.extraction_index,
  f.name, f.origin_uri, f.mime_type, f.size, l.name, cr.uri,
  f.origin_modification_date, cpt.processing_finished_at`

const baseFrom = `FROM list_items i
JOIN files f ON f.id = i.source_file_id
JOIN libraries l ON l.id = f.library_id
LEFT JOIN crawlers cr ON cr.id = f.crawled_by_crawler_id
LEFT JOIN LATERAL (
  SELECT t.processing_finished_at FROM content_processing_tasks t
  WHERE t.file_id = f.id ORDER BY t.created_at DESC LIMIT 1
) cpt ON true`

// fileColumns routes file-property fields to joined columns.
var fileColumns = map[model.FileProperty]string{
	model.FilePropertyName:                   "f.name",
	model.FilePropertyOriginURI:              "f.origin_uri",
	model.FilePropertyMimeType:               "f.mime_type",
	model.FilePropertySize:                   "f.size",
	model.FilePropertySource:                 "l.name",
	model.FilePropertyCrawlerURL:             "cr.uri",
	model.FilePropertyItemName:               "i.item_name",
	model.FilePropertyProcessedAt:            "cpt.processing_finished_at",
	model.FilePropertyOriginModificationDate: "f.origin_modification_date",
}

// Compiler turns a Request into SQL.
type Compiler struct{}

// Compile builds the page and count queries for req.
func (Compiler) Compile(req Request) (*Query, error) {
	if req.ListID == "" {
		return nil, eris.New("listview: list id is required")
	}
	fields := model.NewFieldIndex(req.Fields)
	b := newBuilder()

	b.and("i.list_id = " + b.bind(req.ListID))
	if !req.ShowArchived {
		b.and("f.archived_at IS NULL")
	}

	for _, flt := range req.Filters {
		field, ok := fields[flt.FieldID]
		if !ok {
			return nil, eris.Wrapf(ErrUnsupportedFilter, "listview: unknown field %s", flt.FieldID)
		}
		col, err := column(b, field)
		if err != nil {
			return nil, err
		}
		pred, err := predicate(b, field, col, flt)
		if err != nil {
			return nil, err
		}
		b.and(pred)
	}

	for _, s := range req.Sorts {
		field, ok := fields[s.FieldID]
		if !ok {
			return nil, eris.Wrapf(ErrUnsupportedFilter, "listview: unknown sort field %s", s.FieldID)
		}
		col, err := column(b, field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if strings.EqualFold(s.Direction, "desc") {
			dir = "DESC"
		}
		b.orderBy(fmt.Sprintf("%s %s NULLS LAST", col, dir))
	}
	b.orderBy("i.id ASC")

	from := baseFrom + b.joinSQL() + b.whereSQL()
	countArgs := append([]any(nil), b.args...)

	take := req.Take
	if take <= 0 {
		take = defaultTake
	}
	if take > maxTake {
		take = maxTake
	}
	skip := max(req.Skip, 0)

	sql := "SELECT " + selectColumns + "\n" + from +
		"\nORDER BY " + strings.Join(b.order, ", ") +
		"\nLIMIT " + b.bind(take) + " OFFSET " + b.bind(skip)

	return &Query{
		SQL:       sql,
		Args:      b.args,
		CountSQL:  "SELECT count(*)\n" + from,
		CountArgs: countArgs,
		Take:      take,
		Skip:      skip,
	}, nil
}

// column resolves the SQL expression holding a field's value.
func column(b *builder, field *model.Field) (string, error) {
	if field.SourceType == model.SourceFileProperty {
		col, ok := fileColumns[field.FileProperty]
		if !ok {
			return "", eris.Wrapf(ErrUnsupportedFilter, "listview: unknown file property %q", field.FileProperty)
		}
		return col, nil
	}

	alias := b.cacheJoin(field.ID)
	switch model.SlotFor(field.Type) {
	case model.SlotString:
		return alias + ".value_string", nil
	case model.SlotNumber:
		return alias + ".value_number", nil
	case model.SlotBoolean:
		return alias + ".value_boolean", nil
	case model.SlotDate:
		return alias + ".value_date", nil
	}
	return "", eris.Wrapf(ErrUnsupportedFilter, "listview: field %s has unknown type %q", field.Name, field.Type)
}

func predicate(b *builder, field *model.Field, col string, flt Filter) (string, error) {
	if field.Type.IsTextual() {
		return textPredicate(b, col, flt)
	}

	switch flt.FilterType {
	case FilterIsEmpty:
		return col + " IS NULL", nil
	case FilterIsNotEmpty:
		return col + " IS NOT NULL", nil
	case FilterEquals, FilterNotEquals:
	default:
		return "", eris.Wrapf(ErrUnsupportedFilter, "listview: %s filter on %s field %s", flt.FilterType, field.Type, field.Name)
	}

	value, err := typedValue(field.Type, flt.Value)
	if err != nil {
		return "", eris.Wrapf(ErrInvalidFilterValue, "listview: %s filter on %s: %q is not a valid %s", flt.FilterType, field.Name, flt.Value, field.Type)
	}

	lhs, rhs := col, b.bind(value)
	if field.Type == model.FieldTypeDate {
		lhs, rhs = col+"::date", rhs+"::date"
	}
	if flt.FilterType == FilterEquals {
		return lhs + " = " + rhs, nil
	}
	return lhs + " IS DISTINCT FROM " + rhs, nil
}

func textPredicate(b *builder, col string, flt Filter) (string, error) {
	switch flt.FilterType {
	case FilterEquals:
		return col + " = " + b.bind(flt.Value), nil
	case FilterNotEquals:
		return col + " IS DISTINCT FROM " + b.bind(flt.Value), nil
	case FilterContains:
		return col + " ILIKE " + b.bind("%"+escapeLike(flt.Value)+"%"), nil
	case FilterNotContains:
		return fmt.Sprintf("(%s IS NULL OR %s NOT ILIKE %s)", col, col, b.bind("%"+escapeLike(flt.Value)+"%")), nil
	case FilterStartsWith:
		return col + " ILIKE " + b.bind(escapeLike(flt.Value)+"%"), nil
	case FilterEndsWith:
		return col + " ILIKE " + b.bind("%"+escapeLike(flt.Value)), nil
	case FilterIsEmpty:
		return fmt.Sprintf("(%s IS NULL OR %s = '')", col, col), nil
	case FilterIsNotEmpty:
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", col, col), nil
	}
	return "", eris.Wrapf(ErrUnsupportedFilter, "listview: unknown filter type %q", flt.FilterType)
}

// typedValue parses a filter value for a non-text field type.
func typedValue(t model.FieldType, raw string) (any, error) {
	switch {
	case t == model.FieldTypeNumber:
		return enrichment.ParseNumber(raw)
	case t == model.FieldTypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, eris.Errorf("listview: invalid boolean %q", raw)
	case t.IsTemporal():
		d, err := enrichment.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		return d.UTC().Truncate(time.Second), nil
	}
	return nil, eris.Errorf("listview: unsupported type %q", t)
}
