// Package items provides the PostgreSQL-backed repository for cabinet item
// metadata rows.
package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/dbx"
	"github.com/tempcab/cabinet/internal/server/models"
)

// PostgresRepository implements item metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save inserts one item metadata row. The content must already be in the
// content store; only its size is recorded here.
func (r *PostgresRepository) Save(ctx context.Context, item *models.CabinetItem) error {
	query := `
		INSERT INTO cabinet_items (id, cabinet_code, category, name, size, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.CabinetCode, string(item.Category), item.Name, item.Size, item.SortOrder)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteByID removes one item row. Returns common.ErrorNotFound when the
// row does not exist.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cabinet_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// FindByID loads one item's metadata. Returns common.ErrorNotFound when
// absent.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.CabinetItem, error) {
	query := `
		SELECT id, cabinet_code, category, name, size, sort_order
		FROM cabinet_items
		WHERE id = $1
	`
	var (
		item     models.CabinetItem
		category string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.CabinetCode, &category, &item.Name, &item.Size, &item.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	item.Category, err = models.ItemCategoryFromString(category)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListByCabinetCode returns a cabinet's items ordered by sort_order
// ascending, metadata only.
func (r *PostgresRepository) ListByCabinetCode(ctx context.Context, cabinetCode int64) ([]*models.CabinetItem, error) {
	query := `
		SELECT id, cabinet_code, category, name, size, sort_order
		FROM cabinet_items
		WHERE cabinet_code = $1
		ORDER BY sort_order ASC
	`
	rows, err := r.db.QueryContext(ctx, query, cabinetCode)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.CabinetItem
	for rows.Next() {
		var (
			item     models.CabinetItem
			category string
		)
		if err := rows.Scan(&item.ID, &item.CabinetCode, &category, &item.Name, &item.Size, &item.SortOrder); err != nil {
			return nil, err
		}
		item.Category, err = models.ItemCategoryFromString(category)
		if err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
