package internal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/resource"
	"go.uber.org/zap"
)

type collaboratorPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

var errEntityNotFound = errors.New("entity not found")

// PostgresCollaborator serves one entity kind from a relational table. It is
// an AttributeGetter, an AttributeSetter, a ListSource and a Connector
// reporting the server major version as the level.
type PostgresCollaborator struct {
	pool     collaboratorPool
	query    *tableQuery
	pageSize int

	mu      sync.Mutex
	cursors map[*tableCursor]struct{}
}

var (
	_ resource.AttributeGetter = (*PostgresCollaborator)(nil)
	_ resource.AttributeSetter = (*PostgresCollaborator)(nil)
	_ resource.ListSource      = (*PostgresCollaborator)(nil)
	_ resource.Connector       = (*PostgresCollaborator)(nil)
)

func NewPostgresCollaborator(pool collaboratorPool, kind string, mapping resource.TableMapping, pageSize int) (*PostgresCollaborator, error) {
	q, err := newTableQuery(kind, mapping, sanitizeIdentifier)
	if err != nil {
		return nil, err
	}
	return &PostgresCollaborator{
		pool:     pool,
		query:    q,
		pageSize: defaultPageSize(pageSize),
		cursors:  make(map[*tableCursor]struct{}),
	}, nil
}

func (c *PostgresCollaborator) Connect(ctx context.Context, _ resource.Identity) (resource.Level, error) {
	var version string
	if err := c.pool.QueryRow(ctx, "SHOW server_version_num").Scan(&version); err != nil {
		return 0, fmt.Errorf("read server version: %w", err)
	}
	n, err := strconv.Atoi(version)
	if err != nil {
		return 0, fmt.Errorf("parse server version %q: %w", version, err)
	}
	return resource.Level(n / 10000), nil
}

func (c *PostgresCollaborator) Fetch(ctx context.Context, id resource.Identity, op resource.OperationID, ids []resource.AttributeID) (map[resource.AttributeID]any, error) {
	sql, args, mapped, err := c.query.selectByKey(id, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[resource.AttributeID]any, len(mapped))
	if len(mapped) == 0 {
		return out, nil
	}

	rows, err := c.pool.Query(ctx, sql, args...)
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
	values, err := rows.Values()
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

func (c *PostgresCollaborator) Apply(ctx context.Context, id resource.Identity, op resource.OperationID, values []resource.PhysicalValue) error {
	sql, args, err := c.query.update(id, values)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("apply %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply %s to %s: %w", op, id, errEntityNotFound)
	}
	zap.S().Debugw("applied attribute group", "resource", id.String(), "operation", op, "count", len(values))
	return nil
}

func (c *PostgresCollaborator) OpenQuery(_ context.Context, q resource.Query) (resource.ListHandle, error) {
	sql, args, err := c.query.list(q)
	if err != nil {
		return nil, err
	}
	size := q.PageSize
	if size <= 0 {
		size = c.pageSize
	}
	cur := &tableCursor{sql: sql, args: args, size: size}
	c.mu.Lock()
	c.cursors[cur] = struct{}{}
	c.mu.Unlock()
	return cur, nil
}

func (c *PostgresCollaborator) FetchNext(ctx context.Context, h resource.ListHandle) ([]resource.Record, bool, error) {
	cur, err := c.cursor(h)
	if err != nil {
		return nil, false, err
	}
	if cur.done {
		return nil, true, nil
	}
	sql, args := page(cur.sql, cur.args, cur.size, cur.offset)
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list %s: %w", c.query.kind, err)
	}
	defer rows.Close()

	records := make([]resource.Record, 0, cur.size)
	more := false
	for rows.Next() {
		if len(records) == cur.size {
			more = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, false, fmt.Errorf("scan %s: %w", c.query.kind, err)
		}
		records = append(records, c.query.record(values))
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list %s: %w", c.query.kind, err)
	}
	cur.offset += len(records)
	cur.done = !more
	return records, cur.done, nil
}

func (c *PostgresCollaborator) Close(_ context.Context, h resource.ListHandle) error {
	cur, err := c.cursor(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cursors, cur)
	c.mu.Unlock()
	return nil
}

func (c *PostgresCollaborator) cursor(h resource.ListHandle) (*tableCursor, error) {
	cur, ok := h.(*tableCursor)
	if !ok {
		return nil, fmt.Errorf("unexpected list handle %T", h)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, open := c.cursors[cur]; !open {
		return nil, fmt.Errorf("list handle of kind %q is closed", c.query.kind)
	}
	return cur, nil
}

// OpenCursors reports the handles not yet closed.
func (c *PostgresCollaborator) OpenCursors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cursors)
}
