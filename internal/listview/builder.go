package listview

import (
	"fmt"
	"strings"
)

// builder accumulates joins, predicates and bound parameters. Cache joins
// are keyed by field id so each computed field is joined at most once.
type builder struct {
	args       []any
	joins      []string
	cacheAlias map[string]string
	where      []string
	order      []string
}

func newBuilder() *builder {
	return &builder{cacheAlias: make(map[string]string)}
}

// bind adds a parameter and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// cacheJoin returns the alias of the cache join for fieldID, adding the join
// on first use.
func (b *builder) cacheJoin(fieldID string) string {
	if alias, ok := b.cacheAlias[fieldID]; ok {
		return alias
	}
	alias := fmt.Sprintf("c%d", len(b.cacheAlias)+1)
	b.cacheAlias[fieldID] = alias
	b.joins = append(b.joins, fmt.Sprintf(
		"LEFT JOIN list_item_cache %s ON %s.item_id = i.id AND %s.field_id = %s",
		alias, alias, alias, b.bind(fieldID),
	))
	return alias
}

func (b *builder) and(predicate string) {
	b.where = append(b.where, predicate)
}

func (b *builder) orderBy(expr string) {
	b.order = append(b.order, expr)
}

func (b *builder) joinSQL() string {
	if len(b.joins) == 0 {
		return ""
	}
	return "\n" + strings.Join(b.joins, "\n")
}

func (b *builder) whereSQL() string {
	return "\nWHERE " + strings.Join(b.where, "\n  AND ")
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
