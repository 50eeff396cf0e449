package internal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lychee-technology/resource"
)

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DuckDBSource is a read-only ListSource and AttributeGetter over a DuckDB
// table or view, typically a parquet snapshot exported to S3.
type DuckDBSource struct {
	db       sqlQueryer
	query    *tableQuery
	pageSize int
}

var (
	_ resource.AttributeGetter = (*DuckDBSource)(nil)
	_ resource.ListSource      = (*DuckDBSource)(nil)
)

func NewDuckDBSource(db sqlQueryer, kind string, mapping resource.TableMapping, pageSize int) (*DuckDBSource, error) {
	q, err := newTableQuery(kind, mapping, quoteDuckIdentifier)
	if err != nil {
		return nil, err
	}
	return &DuckDBSource{db: db, query: q, pageSize: defaultPageSize(pageSize)}, nil
}

func (s *DuckDBSource) Fetch(ctx context.Context, id resource.Identity, op resource.OperationID, ids []resource.AttributeID) (map[resource.AttributeID]any, error) {
	query, args, mapped, err := s.query.selectByKey(id, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[resource.AttributeID]any, len(mapped))
	if len(mapped) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", op, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", op, err)
		}
		return nil, fmt.Errorf("fetch %s of %s: %w", op, id, errEntityNotFound)
	}
	values, err := scanValues(rows, len(mapped))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", op, err)
	}
	for i, attr := range mapped {
		if values[i] != nil {
			out[attr] = values[i]
		}
	}
	return out, rows.Err()
}

func (s *DuckDBSource) OpenQuery(_ context.Context, q resource.Query) (resource.ListHandle, error) {
	query, args, err := s.query.list(q)
	if err != nil {
		return nil, err
	}
	size := q.PageSize
	if size <= 0 {
		size = s.pageSize
	}
	return &tableCursor{sql: query, args: args, size: size}, nil
}

func (s *DuckDBSource) FetchNext(ctx context.Context, h resource.ListHandle) ([]resource.Record, bool, error) {
	cur, ok := h.(*tableCursor)
	if !ok {
		return nil, false, fmt.Errorf("unexpected list handle %T", h)
	}
	if cur.done {
		return nil, true, nil
	}
	query, args := page(cur.sql, cur.args, cur.size, cur.offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list %s: %w", s.query.kind, err)
	}
	defer rows.Close()

	records := make([]resource.Record, 0, cur.size)
	more := false
	for rows.Next() {
		if len(records) == cur.size {
			more = true
			break
		}
		values, err := scanValues(rows, len(s.query.columns))
		if err != nil {
			return nil, false, fmt.Errorf("scan %s: %w", s.query.kind, err)
		}
		records = append(records, s.query.record(values))
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list %s: %w", s.query.kind, err)
	}
	cur.offset += len(records)
	cur.done = !more
	return records, cur.done, nil
}

// Close is a no-op; a page query holds no server cursor between calls.
func (s *DuckDBSource) Close(context.Context, resource.ListHandle) error {
	return nil
}

func scanValues(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}
