package aggregates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
)

// CASGuard provides compare-and-set helpers for aggregate writes.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if !dbc.InTx() && g.db == nil {
		return nil, ValidationError("missing db transaction context")
	}
	return dbc.DB(g.db), nil
}

// Cond is a column guard for UpdateWhere. A nil Value matches NULL and a
// slice Value matches any of its elements.
type Cond struct {
	Column string
	Value  any
}

// UpdateByVersion updates a row only when id+version match.
func (g CASGuard) UpdateByVersion(dbc dbctx.Context, table string, id uuid.UUID, expectedVersion int, updates map[string]any) (bool, error) {
	if expectedVersion < 0 {
		return false, ValidationError("expectedVersion must be >= 0")
	}
	return g.UpdateWhere(dbc, table, id, []Cond{{Column: "version", Value: expectedVersion}}, updates)
}

// UpdateWhere updates a row only when id and every guard match. It reports
// whether a row was changed.
func (g CASGuard) UpdateWhere(dbc dbctx.Context, table string, id uuid.UUID, guards []Cond, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	table = strings.TrimSpace(table)
	if table == "" || id == uuid.Nil {
		return false, ValidationError("table and id are required for UpdateWhere")
	}
	if len(updates) == 0 {
		return false, ValidationError("updates must not be empty")
	}
	q := db.Table(table).Where("id = ?", id)
	sorted := append([]Cond(nil), guards...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Column < sorted[j].Column })
	for _, c := range sorted {
		col := strings.TrimSpace(c.Column)
		if col == "" {
			return false, ValidationError("guard column is required")
		}
		switch v := c.Value.(type) {
		case nil:
			q = q.Where(fmt.Sprintf("%s IS NULL", col))
		case []string:
			if len(v) == 0 {
				return false, ValidationError("guard " + col + " allows no values")
			}
			q = q.Where(fmt.Sprintf("%s IN ?", col), v)
		default:
			q = q.Where(fmt.Sprintf("%s = ?", col), v)
		}
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequireCASSuccess converts a failed compare-and-set into a typed conflict error.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(strings.TrimSpace(message))
}

// RequireVersionMatch validates version equality for optimistic locking flows.
func RequireVersionMatch(current, expected int) error {
	if expected < 0 {
		return ValidationError("expected version must be >= 0")
	}
	if current != expected {
		return ConflictError(fmt.Sprintf("version mismatch: expected %d, current %d", expected, current))
	}
	return nil
}
