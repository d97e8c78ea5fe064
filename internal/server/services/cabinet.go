// Package services implements the cabinet lifecycle engine: code
// allocation, the hold→occupied state machine, ordered item persistence,
// the ephemeral credential exchange and the expiry reaper.
package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/dbx"
	"github.com/tempcab/cabinet/internal/logging"
	"github.com/tempcab/cabinet/internal/server/models"
	"github.com/tempcab/cabinet/internal/server/repositories/cabinets"
	"github.com/tempcab/cabinet/internal/server/repositories/repomanager"
	"github.com/tempcab/cabinet/internal/server/storage"
)

const (
	// holdDuration is how long an applicant may sit on a Hold cabinet
	// before the reaper reclaims it.
	holdDuration = 10 * time.Minute

	// maxDrawAttempts bounds the random code draw. The insert's unique
	// constraint is the allocation authority; after this many lost races
	// or occupied draws we give up with ErrCodeSpaceExhausted.
	maxDrawAttempts = 16

	codeMin  = 100_000
	codeSpan = 900_000
)

// Payload limits enforced before any mutation.
const (
	MaxTextSize  = 2000
	MaxFileSize  = 2 << 20
	MaxTotalSize = 10 << 20
	MaxHoldHours = 24
)

// CabinetService owns the cabinet state machine and ordered item
// persistence. Metadata writes for one operation share a transaction;
// content-store writes are not transactional and may be orphaned by a
// rollback (collected when the cabinet's content is deleted).
type CabinetService struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	content  storage.ContentStore
	capacity int64
	logger   logging.Logger

	// Seams for tests.
	now      func() time.Time
	randCode func() int64
}

func NewCabinetService(db *sql.DB, rm repomanager.RepositoryManager, content storage.ContentStore, capacity int64, logger logging.Logger) *CabinetService {
	return &CabinetService{
		db:       db,
		rm:       rm,
		content:  content,
		capacity: capacity,
		logger:   logger.With("module", "cabinet_service"),
		now:      time.Now,
		randCode: func() int64 { return codeMin + mathrand.Int64N(codeSpan) },
	}
}

// newHoldToken draws the opaque secret an applicant must present to occupy
// its held cabinet.
func newHoldToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("hold token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Apply reserves a cabinet: it first reclaims every expired cabinet so
// their codes return to the pool, gates on capacity, then draws a free
// 6-digit code and creates a Hold cabinet with a fresh hold token expiring
// in ten minutes.
//
// Capacity counts Occupied cabinets only — Hold cabinets never count, so
// concurrent applicants can hold codes past capacity and find out at
// occupy time whether a slot remains. A draw that loses the insert race
// is retried; the retry count is bounded.
func (s *CabinetService) Apply(ctx context.Context) (*models.Cabinet, error) {
	repo := s.rm.Cabinets(s.db)

	reclaimed, err := repo.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error(ctx, "failed to reclaim expired cabinets", "error", err)
		return nil, common.ErrorInternal
	}
	if reclaimed > 0 {
		s.logger.Info(ctx, "reclaimed expired cabinets", "count", reclaimed)
	}

	occupied, err := repo.CountByStatus(ctx, models.StatusOccupied)
	if err != nil {
		s.logger.Error(ctx, "failed to count occupied cabinets", "error", err)
		return nil, common.ErrorInternal
	}
	if occupied >= s.capacity {
		return nil, ErrCapacityExhausted
	}

	for attempt := 0; attempt < maxDrawAttempts; attempt++ {
		code := s.randCode()

		exists, err := repo.ExistsByCode(ctx, code)
		if err != nil {
			s.logger.Error(ctx, "failed to check cabinet code", "code", code, "error", err)
			return nil, common.ErrorInternal
		}
		if exists {
			continue
		}

		token, err := newHoldToken()
		if err != nil {
			s.logger.Error(ctx, "failed to generate hold token", "error", err)
			return nil, common.ErrorInternal
		}

		cabinet := &models.Cabinet{
			Code:      code,
			Status:    models.StatusHold,
			HoldToken: token,
			ExpireAt:  s.now().Add(holdDuration),
		}
		err = repo.Save(ctx, cabinet)
		if errors.Is(err, cabinets.ErrCodeTaken) {
			// Lost the check-then-insert race; redraw.
			continue
		}
		if err != nil {
			s.logger.Error(ctx, "failed to save cabinet", "code", code, "error", err)
			return nil, common.ErrorInternal
		}

		s.logger.Debug(ctx, "cabinet held", "code", code)
		return cabinet, nil
	}

	s.logger.Warn(ctx, "cabinet code draw exhausted", "attempts", maxDrawAttempts)
	return nil, ErrCodeSpaceExhausted
}

// ValidateHoldHours checks the requested hold duration in whole hours.
func ValidateHoldHours(hours int) error {
	if hours < 0 || hours > MaxHoldHours {
		return fmt.Errorf("%w: %d", ErrInvalidHoldHours, hours)
	}
	return nil
}

// validateItems enforces the per-item and total payload limits before any
// mutation happens.
func validateItems(items []*models.CabinetItem) error {
	var total int
	for _, item := range items {
		size := len(item.Content)
		if size == 0 {
			return fmt.Errorf("%w: %q", ErrEmptyItemContent, item.Name)
		}
		switch item.Category {
		case models.CategoryText:
			if size > MaxTextSize {
				return fmt.Errorf("%w: %d bytes", ErrTextTooLarge, size)
			}
		case models.CategoryFile:
			if size > MaxFileSize {
				return fmt.Errorf("%w: %q is %d bytes", ErrFileTooLarge, item.Name, size)
			}
		default:
			return fmt.Errorf("unsupported item category %q", item.Category)
		}
		total += size
	}
	if total > MaxTotalSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, total)
	}
	return nil
}

// Save performs the hold→occupied transition: it re-validates the cabinet's
// state and hold token inside the same transaction that occupies it, copies
// name/description/password/expiry from the draft, clears the hold token
// and persists the items in submitted order.
//
// Each item's content is written to the content store before its metadata
// row; the metadata transaction commits only after every content write
// succeeded. Content already written when the transaction rolls back is
// left behind and collected with the cabinet's content.
func (s *CabinetService) Save(ctx context.Context, draft *models.Cabinet, items []*models.CabinetItem) (*models.Cabinet, error) {
	if draft.Password == "" {
		return nil, ErrPasswordRequired
	}
	if draft.ExpireAt.IsZero() {
		return nil, ErrExpiryRequired
	}
	if draft.HoldToken == "" {
		return nil, ErrHoldTokenRequired
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	var saved *models.Cabinet
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Cabinets(tx)
		itemRepo := s.rm.Items(tx)

		cabinet, err := repo.FindByCode(ctx, draft.Code)
		if err != nil {
			return err
		}
		if cabinet.Status != models.StatusHold || cabinet.HoldToken != draft.HoldToken {
			return fmt.Errorf("cabinet %d: %w", draft.Code, ErrNotCabinetHolder)
		}

		cabinet.Status = models.StatusOccupied
		cabinet.HoldToken = ""
		cabinet.Name = draft.Name
		cabinet.Description = draft.Description
		cabinet.Password = draft.Password
		cabinet.ExpireAt = draft.ExpireAt

		if err := repo.UpdateByCode(ctx, cabinet); err != nil {
			return err
		}

		for i, item := range items {
			item.ID = uuid.NewString()
			item.CabinetCode = cabinet.Code
			item.SortOrder = int32(i + 1)
			item.Size = int64(len(item.Content))

			if err := s.content.Write(ctx, cabinet.Code, item.ID, item.Content); err != nil {
				return err
			}
			if err := itemRepo.Save(ctx, item); err != nil {
				return err
			}
		}

		saved = cabinet
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, ErrNotCabinetHolder) {
			return nil, err
		}
		s.logger.Error(ctx, "failed to occupy cabinet", "code", draft.Code, "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "cabinet occupied", "code", saved.Code, "items", len(items))
	return saved, nil
}

// DeleteByCode removes a cabinet, its item rows (via cascade) and its
// content. The caller must have proven ownership already.
func (s *CabinetService) DeleteByCode(ctx context.Context, code int64) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Cabinets(tx).DeleteByCode(ctx, code)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		s.logger.Error(ctx, "failed to delete cabinet", "code", code, "error", err)
		return common.ErrorInternal
	}

	// Row is gone; remaining content (including orphans from rolled-back
	// saves) goes with it. A failure here only leaks bytes, not state.
	if err := s.content.DeleteAll(ctx, code); err != nil {
		s.logger.Error(ctx, "failed to delete cabinet content", "code", code, "error", err)
	}

	s.logger.Info(ctx, "cabinet deleted", "code", code)
	return nil
}

// Usage reports pool occupancy: total capacity, occupied count and the
// difference. Hold cabinets are not visible here.
func (s *CabinetService) Usage(ctx context.Context) (models.CabinetUsage, error) {
	occupied, err := s.rm.Cabinets(s.db).CountByStatus(ctx, models.StatusOccupied)
	if err != nil {
		s.logger.Error(ctx, "failed to count occupied cabinets", "error", err)
		return models.CabinetUsage{}, common.ErrorInternal
	}
	return models.NewCabinetUsage(s.capacity, occupied), nil
}

// GetByCode loads one cabinet. Returns common.ErrorNotFound when absent.
func (s *CabinetService) GetByCode(ctx context.Context, code int64) (*models.Cabinet, error) {
	cabinet, err := s.rm.Cabinets(s.db).FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		s.logger.Error(ctx, "failed to find cabinet", "code", code, "error", err)
		return nil, common.ErrorInternal
	}
	return cabinet, nil
}

// ListItems returns a cabinet's items in submitted order, metadata only.
func (s *CabinetService) ListItems(ctx context.Context, code int64) ([]*models.CabinetItem, error) {
	items, err := s.rm.Items(s.db).ListByCabinetCode(ctx, code)
	if err != nil {
		s.logger.Error(ctx, "failed to list cabinet items", "code", code, "error", err)
		return nil, common.ErrorInternal
	}
	return items, nil
}

// GetItem loads one item's metadata and, when asked, its content bytes.
func (s *CabinetService) GetItem(ctx context.Context, id string, withContent bool) (*models.CabinetItem, error) {
	item, err := s.rm.Items(s.db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		s.logger.Error(ctx, "failed to find cabinet item", "id", id, "error", err)
		return nil, common.ErrorInternal
	}
	if withContent {
		content, err := s.content.Read(ctx, item.CabinetCode, item.ID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, err
			}
			s.logger.Error(ctx, "failed to read item content", "id", id, "error", err)
			return nil, common.ErrorInternal
		}
		item.Content = content
	}
	return item, nil
}

// DeleteItemByID removes one item. For file items the backing content is
// removed first; content already missing is the normal not-found condition
// and never aborts the metadata deletion.
func (s *CabinetService) DeleteItemByID(ctx context.Context, id string) error {
	repo := s.rm.Items(s.db)

	item, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		s.logger.Error(ctx, "failed to find cabinet item", "id", id, "error", err)
		return common.ErrorInternal
	}

	if item.Category == models.CategoryFile {
		err := s.content.Delete(ctx, item.CabinetCode, item.ID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "failed to delete item content", "id", id, "error", err)
			return common.ErrorInternal
		}
	}

	if err := repo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		s.logger.Error(ctx, "failed to delete cabinet item", "id", id, "error", err)
		return common.ErrorInternal
	}
	return nil
}

// DeleteExpired removes every cabinet past its deadline, in any state, and
// returns the count. Run by the reaper; Apply also calls the underlying
// sweep to reclaim codes eagerly.
func (s *CabinetService) DeleteExpired(ctx context.Context) (int64, error) {
	count, err := s.rm.Cabinets(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired cabinets: %w", err)
	}
	return count, nil
}
