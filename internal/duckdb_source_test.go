package internal

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lychee-technology/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDuckDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var snapshotTable = resource.TableMapping{
	Table:      "snapshots.users",
	KeyColumns: map[string]string{"NAME": "name"},
	Columns:    map[string]string{"STATUS": "status"},
}

func TestDuckDBSourceFetch(t *testing.T) {
	db, mock := newMockDuckDB(t)
	src, err := NewDuckDBSource(db, "user", snapshotTable, 0)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("^" + regexp.QuoteMeta(`SELECT "status" FROM "snapshots"."users" WHERE "name" = $1`) + "$").
		WithArgs("ALICE").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("*ENABLED"))
	got, err := src.Fetch(ctx, aliceIdentity(), "USRI0100", []resource.AttributeID{"STATUS"})
	require.NoError(t, err)
	assert.Equal(t, map[resource.AttributeID]any{"STATUS": "*ENABLED"}, got)

	mock.ExpectQuery(`^SELECT "status"`).
		WithArgs("ALICE").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	_, err = src.Fetch(ctx, aliceIdentity(), "USRI0100", []resource.AttributeID{"STATUS"})
	assert.ErrorIs(t, err, errEntityNotFound)

	mock.ExpectQuery(`^SELECT "status"`).
		WithArgs("ALICE").
		WillReturnError(errors.New("IO Error: no such file"))
	_, err = src.Fetch(ctx, aliceIdentity(), "USRI0100", []resource.AttributeID{"STATUS"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDBSourceBacksResourceList(t *testing.T) {
	db, mock := newMockDuckDB(t)
	src, err := NewDuckDBSource(db, "user", snapshotTable, 2)
	require.NoError(t, err)
	ctx := context.Background()
	cols := []string{"name", "status"}
	base := `SELECT "name", "status" FROM "snapshots"."users" WHERE "status" = $1 ORDER BY "name" ASC`

	mock.ExpectQuery("^"+regexp.QuoteMeta(base+` LIMIT $2 OFFSET $3`)+"$").
		WithArgs("*DISABLED", 3, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("BOB", "*DISABLED").
			AddRow("DAVE", "*DISABLED").
			AddRow("ERIN", "*DISABLED"))
	mock.ExpectQuery(regexp.QuoteMeta(`OFFSET $3`)).
		WithArgs("*DISABLED", 3, 2).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("ERIN", "*DISABLED"))

	list, err := NewResourceList(newUserRegistry(t), ListOptions{Source: src, PageSize: 2})
	require.NoError(t, err)
	require.NoError(t, list.SetSelection("STATUS", "disabled"))
	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitForComplete(ctx))

	require.Equal(t, 3, list.Length())
	name, ok := list.At(2).Property("NAME")
	require.True(t, ok)
	assert.Equal(t, "ERIN", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDBSourceRejectsForeignHandle(t *testing.T) {
	db, _ := newMockDuckDB(t)
	src, err := NewDuckDBSource(db, "user", snapshotTable, 0)
	require.NoError(t, err)

	_, _, err = src.FetchNext(context.Background(), 42)
	assert.Error(t, err)
	assert.NoError(t, src.Close(context.Background(), 42))
}
