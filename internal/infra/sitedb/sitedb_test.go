package sitedb

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/models"
)

func setupTestSiteDB(t *testing.T) (infra.SiteDatabase, func()) {
	db, err := Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	return db, func() { db.Close() }
}

func collect(t *testing.T, db infra.SiteDatabase, table string) []models.Row {
	var rows []models.Row
	require.NoError(t, db.StreamRows(context.Background(), table, func(r models.Row) error {
		rows = append(rows, r)
		return nil
	}))
	return rows
}

func TestSiteDB_ReplaceTable_CreatesAndStreams(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()
	ctx := context.Background()

	rows := []models.Row{
		{"ID": json.Number("1"), "post_content": "hello", "score": json.Number("1.5"), "parent": nil},
		{"ID": json.Number("2"), "post_content": "мир", "score": json.Number("0"), "parent": json.Number("1")},
	}
	require.NoError(t, db.ReplaceTable(ctx, "posts", []string{"ID", "post_content", "score", "parent"}, rows))

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts"}, tables)

	cols, err := db.Columns(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "post_content", "score", "parent"}, cols)

	got := collect(t, db, "posts")
	assert.Equal(t, rows, got)
}

func TestSiteDB_ReplaceTable_ReplacesRows(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()
	ctx := context.Background()

	cols := []string{"k", "v"}
	require.NoError(t, db.ReplaceTable(ctx, "options", cols, []models.Row{{"k": "a", "v": "1"}, {"k": "b", "v": "2"}}))
	require.NoError(t, db.ReplaceTable(ctx, "options", []string{"v", "k"}, []models.Row{{"k": "c", "v": "3"}}))

	assert.Equal(t, []models.Row{{"k": "c", "v": "3"}}, collect(t, db, "options"))
}

func TestSiteDB_ReplaceTable_RecreatesOnColumnChange(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, db.ReplaceTable(ctx, "users", []string{"id", "email"}, []models.Row{{"id": json.Number("1"), "email": "a@x"}}))
	require.NoError(t, db.ReplaceTable(ctx, "users", []string{"id", "email", "role"},
		[]models.Row{{"id": json.Number("7"), "email": "b@x", "role": "administrator"}}))

	cols, err := db.Columns(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "role"}, cols)
	assert.Equal(t, []models.Row{{"id": json.Number("7"), "email": "b@x", "role": "administrator"}}, collect(t, db, "users"))
}

func TestSiteDB_QuotedIdentifiers(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()
	ctx := context.Background()

	table := `odd "name"; DROP`
	require.NoError(t, db.ReplaceTable(ctx, table, []string{`col "x"`}, []models.Row{{`col "x"`: "v"}}))

	assert.Equal(t, []models.Row{{`col "x"`: "v"}}, collect(t, db, table))
	require.NoError(t, db.DropTable(ctx, table))

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSiteDB_ReplaceTable_UnsupportedValueRollsBack(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, db.ReplaceTable(ctx, "t", []string{"v"}, []models.Row{{"v": "keep"}}))

	err := db.ReplaceTable(ctx, "t", []string{"v"}, []models.Row{{"v": "new"}, {"v": struct{}{}}})
	assert.ErrorIs(t, err, ErrValueType)
	assert.Equal(t, []models.Row{{"v": "keep"}}, collect(t, db, "t"))
}

func TestSiteDB_StreamRows_CallbackError(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, db.ReplaceTable(ctx, "t", []string{"v"}, []models.Row{{"v": "a"}, {"v": "b"}}))

	stop := errors.New("stop")
	calls := 0
	err := db.StreamRows(ctx, "t", func(models.Row) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSiteDB_Columns_MissingTable(t *testing.T) {
	db, cleanup := setupTestSiteDB(t)
	defer cleanup()

	_, err := db.Columns(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTableMissing)
}
