package import_service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/models"
)

type userMerge struct {
	plan   models.MergePlan
	acting string

	emailCol  string
	roleCol   string
	statusCol string
	adminRole string
	disabled  string
	active    string
}

func newUserMerge(cfg *config.Config, plan models.MergePlan, acting string) userMerge {
	return userMerge{
		plan:      plan,
		acting:    models.NormalizeEmail(acting),
		emailCol:  cfg.UserEmailColumn,
		roleCol:   cfg.UserRoleColumn,
		statusCol: cfg.UserStatusColumn,
		adminRole: cfg.AdminRole,
		disabled:  cfg.DisabledStatus,
		active:    cfg.ActiveStatus,
	}
}

func validatePlan(plan models.MergePlan) error {
	for email, d := range plan {
		if models.NormalizeEmail(email) == "" {
			return fmt.Errorf("%w: пустой email", ErrInvalidMergePlan)
		}
		switch d.Mode {
		case "", models.MergeModeKeep, models.MergeModeReplace:
		default:
			return fmt.Errorf("%w: режим %q для %s", ErrInvalidMergePlan, d.Mode, email)
		}
	}
	return nil
}

// merge builds the final users table from the local and incoming tables.
func (m userMerge) merge(local, incoming models.TableDump) (models.TableDump, models.MergeCounts, error) {
	var counts models.MergeCounts

	columns := unionColumns(incoming.Columns, local.Columns)
	localByEmail := make(map[string]models.Row, len(local.Rows))
	for _, row := range local.Rows {
		email := models.NormalizeEmail(cellString(row[m.emailCol]))
		if _, dup := localByEmail[email]; !dup {
			localByEmail[email] = row
		}
	}

	out := models.TableDump{Name: incoming.Name, Columns: columns}
	if out.Name == "" {
		out.Name = local.Name
	}
	position := make(map[string]int)

	for _, row := range incoming.Rows {
		email := models.NormalizeEmail(cellString(row[m.emailCol]))
		d, ok := m.plan.Lookup(email)
		if !ok || !d.Import {
			counts.Skipped++
			continue
		}
		if _, seen := position[email]; seen {
			counts.Skipped++
			continue
		}

		emit := row
		if localRow, conflict := localByEmail[email]; conflict {
			if d.Mode == models.MergeModeKeep {
				emit = localRow
				counts.Kept++
			} else {
				counts.Replaced++
			}
		} else {
			counts.Imported++
		}
		position[email] = len(out.Rows)
		out.Rows = append(out.Rows, project(emit, columns))
	}

	dropped := make(map[string]bool)
	for _, row := range local.Rows {
		email := models.NormalizeEmail(cellString(row[m.emailCol]))
		if _, seen := position[email]; seen {
			continue
		}
		if d, ok := m.plan.Lookup(email); ok && d.Mode == models.MergeModeKeep {
			position[email] = len(out.Rows)
			out.Rows = append(out.Rows, project(row, columns))
			counts.Kept++
			continue
		}
		dropped[email] = true
		counts.Dropped++
	}

	if m.hasEnabledAdmin(out.Rows) {
		return out, counts, nil
	}

	actingRow, ok := localByEmail[m.acting]
	if m.acting == "" || !ok {
		return models.TableDump{}, counts, fmt.Errorf("%w: %s", ErrActingUserMissing, m.acting)
	}
	preserved := project(actingRow, columns)
	if !strings.Contains(cellString(preserved[m.roleCol]), m.adminRole) {
		preserved[m.roleCol] = m.adminRole
	}
	preserved[m.statusCol] = m.active

	if i, seen := position[m.acting]; seen {
		out.Rows[i] = preserved
	} else {
		out.Rows = append(out.Rows, preserved)
		if dropped[m.acting] {
			counts.Dropped--
		}
	}
	counts.ForcedPreserve = true
	return out, counts, nil
}

func (m userMerge) hasEnabledAdmin(rows []models.Row) bool {
	for _, row := range rows {
		if strings.Contains(cellString(row[m.roleCol]), m.adminRole) && cellString(row[m.statusCol]) != m.disabled {
			return true
		}
	}
	return false
}

func unionColumns(primary, secondary []string) []string {
	cols := make([]string, 0, len(primary)+len(secondary))
	seen := make(map[string]bool, len(primary)+len(secondary))
	for _, list := range [][]string{primary, secondary} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

func project(row models.Row, columns []string) models.Row {
	out := make(models.Row, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

func cellString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
