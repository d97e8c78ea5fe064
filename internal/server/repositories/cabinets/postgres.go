// Package cabinets provides the PostgreSQL-backed repository for cabinet
// rows: the hold/occupied records behind code allocation.
package cabinets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/dbx"
	"github.com/tempcab/cabinet/internal/server/models"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements cabinet storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save inserts a new cabinet row. A primary-key conflict on the code column
// is returned as ErrCodeTaken so the caller can redraw.
func (r *PostgresRepository) Save(ctx context.Context, cabinet *models.Cabinet) error {
	query := `
		INSERT INTO cabinets (code, name, description, password, status, hold_token, expire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		cabinet.Code, nullable(cabinet.Name), nullable(cabinet.Description), nullable(cabinet.Password),
		int32(cabinet.Status), nullable(cabinet.HoldToken), cabinet.ExpireAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrCodeTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// UpdateByCode rewrites the mutable cabinet columns and bumps the version.
// Returns common.ErrorNotFound when no row with that code exists.
func (r *PostgresRepository) UpdateByCode(ctx context.Context, cabinet *models.Cabinet) error {
	query := `
		UPDATE cabinets
		SET name = $2, description = $3, password = $4, status = $5, hold_token = $6,
			expire_at = $7, updated_at = now(), version = version + 1
		WHERE code = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		cabinet.Code, nullable(cabinet.Name), nullable(cabinet.Description), nullable(cabinet.Password),
		int32(cabinet.Status), nullable(cabinet.HoldToken), cabinet.ExpireAt)
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

// DeleteByCode removes the cabinet row. Item rows go with it via the
// ON DELETE CASCADE constraint.
func (r *PostgresRepository) DeleteByCode(ctx context.Context, code int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cabinets WHERE code = $1`, code)
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

// DeleteExpired removes every cabinet whose deadline has passed, in any
// state, and returns how many were reclaimed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cabinets WHERE expire_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, status models.CabinetStatus) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM cabinets WHERE status = $1`, int32(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) ExistsByCode(ctx context.Context, code int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM cabinets WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// FindByCode loads one cabinet. Returns common.ErrorNotFound when absent.
func (r *PostgresRepository) FindByCode(ctx context.Context, code int64) (*models.Cabinet, error) {
	query := `
		SELECT code, name, description, password, status, hold_token, expire_at, created_at, updated_at, version
		FROM cabinets
		WHERE code = $1
	`
	var (
		c                            models.Cabinet
		name, description, pw, token sql.NullString
		status                       int32
	)
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.Code, &name, &description, &pw, &status, &token,
		&c.ExpireAt, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Name = name.String
	c.Description = description.String
	c.Password = pw.String
	c.HoldToken = token.String
	c.Status, err = models.CabinetStatusFromCode(status)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
