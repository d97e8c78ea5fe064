// Package keypairs provides the PostgreSQL-backed repository for ephemeral
// credential keypairs.
package keypairs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/dbx"
	"github.com/tempcab/cabinet/internal/server/models"
)

// PostgresRepository implements keypair storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, keypair *models.Keypair) error {
	query := `
		INSERT INTO keypairs (id, secret_key, public_key, expire_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query,
		keypair.ID, keypair.SecretKey, keypair.PublicKey, keypair.ExpireAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteByID removes one keypair. A zero rows-affected result is returned
// as common.ErrorNotFound: the delete is the atomic claim that enforces
// single use, and the loser of a race observes not-found here.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM keypairs WHERE id = $1`, id)
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

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM keypairs WHERE expire_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// FindByPublicKey loads a keypair by its public half. Returns
// common.ErrorNotFound when absent (including after consumption).
func (r *PostgresRepository) FindByPublicKey(ctx context.Context, publicKey string) (*models.Keypair, error) {
	query := `
		SELECT id, secret_key, public_key, expire_at, created_at, version
		FROM keypairs
		WHERE public_key = $1
	`
	var kp models.Keypair
	err := r.db.QueryRowContext(ctx, query, publicKey).Scan(
		&kp.ID, &kp.SecretKey, &kp.PublicKey, &kp.ExpireAt, &kp.CreatedAt, &kp.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &kp, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM keypairs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}
