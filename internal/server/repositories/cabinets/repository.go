package cabinets

import (
	"context"
	"errors"
	"time"

	"github.com/tempcab/cabinet/internal/server/models"
)

// ErrCodeTaken reports that an insert lost the race for a cabinet code.
// The unique constraint on the code column is the sole correctness
// guarantee for allocation; the allocator catches this and redraws.
var ErrCodeTaken = errors.New("cabinet code already taken")

type Repository interface {
	Save(ctx context.Context, cabinet *models.Cabinet) error
	UpdateByCode(ctx context.Context, cabinet *models.Cabinet) error
	DeleteByCode(ctx context.Context, code int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, status models.CabinetStatus) (int64, error)
	ExistsByCode(ctx context.Context, code int64) (bool, error)
	FindByCode(ctx context.Context, code int64) (*models.Cabinet, error)
}
