package inmem

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/models"
)

var ErrTableMissing = errors.New("таблица не найдена")

var _ infra.SiteDatabase = (*siteDB)(nil)

type siteTable struct {
	columns []string
	rows    []models.Row
}

type siteDB struct {
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]*siteTable
}

// NewSiteDatabase returns a map-backed site database.
func NewSiteDatabase(log *zap.Logger) infra.SiteDatabase {
	return &siteDB{logger: log, tables: make(map[string]*siteTable)}
}

func (db *siteDB) Tables(ctx context.Context) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (db *siteDB) Columns(ctx context.Context, table string) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	t, ok := db.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableMissing, table)
	}
	return slices.Clone(t.columns), nil
}

func (db *siteDB) StreamRows(ctx context.Context, table string, fn func(models.Row) error) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	db.mu.RLock()
	t, ok := db.tables[table]
	var rows []models.Row
	if ok {
		rows = make([]models.Row, len(t.rows))
		for i, r := range t.rows {
			rows[i] = copyRow(r)
		}
	}
	db.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTableMissing, table)
	}
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (db *siteDB) ReplaceTable(ctx context.Context, table string, columns []string, rows []models.Row) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if table == "" || len(columns) == 0 {
		return fmt.Errorf("%w: таблица %q", infra.ErrInvalidArg, table)
	}

	t := &siteTable{columns: slices.Clone(columns), rows: make([]models.Row, len(rows))}
	for i, r := range rows {
		row := make(models.Row, len(columns))
		for _, c := range columns {
			row[c] = r[c]
		}
		t.rows[i] = row
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.tables[table] = t
	return nil
}

func (db *siteDB) DropTable(ctx context.Context, table string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.tables, table)
	db.logger.Debug("таблица удалена", zap.String("table", table))
	return nil
}

func (db *siteDB) Close() error {
	return nil
}

func copyRow(r models.Row) models.Row {
	cp := make(models.Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}
