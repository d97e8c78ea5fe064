package repomanager

import (
	"context"
	"database/sql"

	"github.com/tempcab/cabinet/internal/dbx"
	"github.com/tempcab/cabinet/internal/server/repositories/cabinets"
	"github.com/tempcab/cabinet/internal/server/repositories/items"
	"github.com/tempcab/cabinet/internal/server/repositories/keypairs"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// the same repository code against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Cabinets(db dbx.DBTX) cabinets.Repository
	Items(db dbx.DBTX) items.Repository
	Keypairs(db dbx.DBTX) keypairs.Repository
}
