package keypairs

import (
	"context"
	"time"

	"github.com/tempcab/cabinet/internal/server/models"
)

// Repository stores ephemeral keypairs. DeleteByID doubles as the
// single-use claim: it reports common.ErrorNotFound when the row was
// already gone, so of two racing consumers exactly one wins.
type Repository interface {
	Save(ctx context.Context, keypair *models.Keypair) error
	DeleteByID(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	FindByPublicKey(ctx context.Context, publicKey string) (*models.Keypair, error)
	Count(ctx context.Context) (int64, error)
}
