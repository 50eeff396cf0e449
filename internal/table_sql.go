package internal

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lychee-technology/resource"
)

// tableQuery renders the SQL of the table-backed reference collaborators.
// Key columns hold the identity property values; other columns hold
// physical attribute values.
type tableQuery struct {
	kind    string
	mapping resource.TableMapping
	quote   func(string) string
	keys    []resource.AttributeID
	columns []resource.AttributeID
}

func newTableQuery(kind string, mapping resource.TableMapping, quote func(string) string) (*tableQuery, error) {
	if mapping.Table == "" {
		return nil, fmt.Errorf("table mapping of kind %q has no table", kind)
	}
	if len(mapping.KeyColumns) == 0 {
		return nil, fmt.Errorf("table mapping of kind %q has no key columns", kind)
	}
	t := &tableQuery{kind: kind, mapping: mapping, quote: quote}
	for id := range mapping.KeyColumns {
		t.keys = append(t.keys, resource.AttributeID(id))
	}
	slices.Sort(t.keys)
	t.columns = slices.Clone(t.keys)
	for id := range mapping.Columns {
		if _, isKey := mapping.KeyColumns[id]; !isKey {
			t.columns = append(t.columns, resource.AttributeID(id))
		}
	}
	slices.Sort(t.columns[len(t.keys):])
	return t, nil
}

func (t *tableQuery) column(id resource.AttributeID) (string, bool) {
	if c, ok := t.mapping.KeyColumns[string(id)]; ok {
		return c, true
	}
	c, ok := t.mapping.Columns[string(id)]
	return c, ok
}

func (t *tableQuery) table() string {
	return t.quote(t.mapping.Table)
}

// where renders the key predicate starting at placeholder $next.
func (t *tableQuery) where(identity resource.Identity, args []any) (string, []any, error) {
	parts := make([]string, 0, len(t.keys))
	for _, id := range t.keys {
		v, ok := identity.Properties[id]
		if !ok || v == nil {
			return "", nil, resource.NewPropertyNotSetError(id).WithKind(t.kind)
		}
		args = append(args, v)
		parts = append(parts, fmt.Sprintf("%s = $%d", t.quote(t.mapping.KeyColumns[string(id)]), len(args)))
	}
	return strings.Join(parts, " AND "), args, nil
}

// selectByKey reads the mapped subset of ids of one row. Ids without a
// column are left out and reported back as unmapped.
func (t *tableQuery) selectByKey(identity resource.Identity, ids []resource.AttributeID) (string, []any, []resource.AttributeID, error) {
	var (
		cols   []string
		mapped []resource.AttributeID
	)
	for _, id := range ids {
		if c, ok := t.column(id); ok {
			cols = append(cols, t.quote(c))
			mapped = append(mapped, id)
		}
	}
	if len(cols) == 0 {
		return "", nil, nil, nil
	}
	where, args, err := t.where(identity, nil)
	if err != nil {
		return "", nil, nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), t.table(), where)
	return sql, args, mapped, nil
}

func (t *tableQuery) update(identity resource.Identity, values []resource.PhysicalValue) (string, []any, error) {
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+len(t.keys))
	for _, v := range values {
		c, ok := t.mapping.Columns[string(v.ID)]
		if !ok {
			return "", nil, fmt.Errorf("attribute %s of kind %q has no writable column", v.ID, t.kind)
		}
		args = append(args, v.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", t.quote(c), len(args)))
	}
	where, args, err := t.where(identity, args)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", t.table(), strings.Join(sets, ", "), where), args, nil
}

// list renders the enumeration query of q without paging. Key columns are
// appended to the ordering so pages are stable.
func (t *tableQuery) list(q resource.Query) (string, []any, error) {
	cols := make([]string, 0, len(t.columns))
	for _, id := range t.columns {
		c, _ := t.column(id)
		cols = append(cols, t.quote(c))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), t.table())

	var args []any
	if len(q.Selection) > 0 {
		ids := MapKeys(q.Selection)
		slices.Sort(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			c, ok := t.column(id)
			if !ok {
				return "", nil, fmt.Errorf("selection %s of kind %q has no column", id, t.kind)
			}
			args = append(args, q.Selection[id])
			parts = append(parts, fmt.Sprintf("%s = $%d", t.quote(c), len(args)))
		}
		fmt.Fprintf(&b, " WHERE %s", strings.Join(parts, " AND "))
	}

	order := make([]string, 0, len(q.Sort)+len(t.keys))
	seen := NewSet[resource.AttributeID]()
	for _, k := range q.Sort {
		c, ok := t.column(k.ID)
		if !ok {
			return "", nil, fmt.Errorf("sort key %s of kind %q has no column", k.ID, t.kind)
		}
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		order = append(order, t.quote(c)+" "+dir)
		seen.Add(k.ID)
	}
	for _, id := range t.keys {
		if !seen.Contains(id) {
			order = append(order, t.quote(t.mapping.KeyColumns[string(id)])+" ASC")
		}
	}
	fmt.Fprintf(&b, " ORDER BY %s", strings.Join(order, ", "))
	return b.String(), args, nil
}

// page appends paging to a list query. One extra row is requested to
// detect the last page.
func page(sql string, args []any, size, offset int) (string, []any) {
	args = append(slices.Clone(args), size+1, offset)
	return fmt.Sprintf("%s LIMIT $%d OFFSET $%d", sql, len(args)-1, len(args)), args
}

// tableCursor is the list handle of the table-backed sources.
type tableCursor struct {
	sql    string
	args   []any
	size   int
	offset int
	done   bool
}

func (t *tableQuery) record(values []any) resource.Record {
	rec := make(resource.Record, len(t.columns))
	for i, id := range t.columns {
		if i < len(values) {
			rec[id] = values[i]
		}
	}
	return rec
}

func defaultPageSize(size int) int {
	if size <= 0 {
		return 100
	}
	return size
}
