package items

import (
	"context"

	"github.com/tempcab/cabinet/internal/server/models"
)

// Repository stores cabinet item metadata. Content bytes live in the
// content store; these rows only describe them.
type Repository interface {
	Save(ctx context.Context, item *models.CabinetItem) error
	DeleteByID(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.CabinetItem, error)
	ListByCabinetCode(ctx context.Context, cabinetCode int64) ([]*models.CabinetItem, error)
}
