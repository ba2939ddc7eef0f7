package sitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/models"
)

const driverName = "sqlite"

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

var _ infra.SiteDatabase = (*siteDB)(nil)

type siteDB struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func Open(ctx context.Context, log *zap.Logger, path string) (infra.SiteDatabase, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	db, err := sqlx.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	log.Info("база сайта открыта", zap.String("path", path))
	return &siteDB{db: db, logger: log}, nil
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
		return nil
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *siteDB) Tables(ctx context.Context) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.SelectContext(ctx, &names, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return names, nil
}

type columnInfo struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

type queryer interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func columnsOf(ctx context.Context, q queryer, table string) ([]string, error) {
	var info []columnInfo
	if err := q.SelectContext(ctx, &info, "PRAGMA table_info("+quoteIdent(table)+")"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	cols := make([]string, 0, len(info))
	for _, c := range info {
		cols = append(cols, c.Name)
	}
	return cols, nil
}

func (s *siteDB) Columns(ctx context.Context, table string) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if table == "" {
		return nil, ErrTableName
	}

	cols, err := columnsOf(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, table)
	}
	return cols, nil
}

// StreamRows hands rows to fn one at a time in rowid order. Integer and
// real values arrive as json.Number, blobs as strings.
func (s *siteDB) StreamRows(ctx context.Context, table string, fn func(models.Row) error) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if table == "" {
		return ErrTableName
	}

	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM "+quoteIdent(table)+" ORDER BY rowid")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
		row := make(models.Row, len(raw))
		for k, v := range raw {
			row[k] = normalize(v)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case int64:
		return json.Number(strconv.FormatInt(x, 10))
	case float64:
		return json.Number(strconv.FormatFloat(x, 'f', -1, 64))
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.DateTime)
	default:
		return v
	}
}

func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: число %q", ErrValueType, x)
		}
		return f, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValueType, err)
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrValueType, v)
	}
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

func (s *siteDB) ReplaceTable(ctx context.Context, table string, columns []string, rows []models.Row) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if table == "" {
		return ErrTableName
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoColumns, table)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer tx.Rollback()

	existing, err := columnsOf(ctx, tx, table)
	if err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}

	if sameColumns(existing, columns) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
	} else {
		if len(existing) > 0 {
			s.logger.Info("набор колонок изменился, таблица пересоздаётся",
				zap.String("table", table),
				zap.Strings("old", existing),
				zap.Strings("new", columns),
			)
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
		create := "CREATE TABLE " + quoteIdent(table) + " (" + strings.Join(quoted, ", ") + ")"
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
	}

	if len(rows) > 0 {
		insert := "INSERT INTO " + quoteIdent(table) + " (" + strings.Join(quoted, ", ") +
			") VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
		stmt, err := tx.PreparexContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
		defer stmt.Close()

		args := make([]any, len(columns))
		for _, row := range rows {
			for i, c := range columns {
				v, err := bindValue(row[c])
				if err != nil {
					return fmt.Errorf("таблица %s, колонка %s: %w", table, c, err)
				}
				args[i] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("%w: %v", ErrQuery, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

func (s *siteDB) DropTable(ctx context.Context, table string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if table == "" {
		return ErrTableName
	}

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	s.logger.Info("таблица удалена", zap.String("table", table))
	return nil
}

func (s *siteDB) Close() error {
	return s.db.Close()
}
