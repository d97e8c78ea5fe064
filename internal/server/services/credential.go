package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/cryptobox"
	"github.com/tempcab/cabinet/internal/logging"
	"github.com/tempcab/cabinet/internal/server/models"
	"github.com/tempcab/cabinet/internal/server/repositories/repomanager"
)

// keypairTTL is how long an issued public key stays usable. Expired
// keypairs are left in place for the reaper so an expired exchange and a
// consumed exchange fail differently.
const keypairTTL = 5 * time.Minute

// CredentialService issues short-lived single-use keypairs for password
// transit. A client fetches a public key, seals the password with it and
// submits the ciphertext; the matching secret key is consumed on first use.
type CredentialService struct {
	db          *sql.DB
	rm          repomanager.RepositoryManager
	maxKeypairs int64
	logger      logging.Logger

	now func() time.Time
}

func NewCredentialService(db *sql.DB, rm repomanager.RepositoryManager, maxKeypairs int64, logger logging.Logger) *CredentialService {
	return &CredentialService{
		db:          db,
		rm:          rm,
		maxKeypairs: maxKeypairs,
		logger:      logger.With("module", "credential_service"),
		now:         time.Now,
	}
}

// Issue generates a fresh keypair, stores it with a five-minute deadline
// and returns the hex-encoded public key. The outstanding-keypair count is
// capped to bound the table between reaper sweeps.
func (s *CredentialService) Issue(ctx context.Context) (string, error) {
	repo := s.rm.Keypairs(s.db)

	count, err := repo.Count(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to count keypairs", "error", err)
		return "", common.ErrorInternal
	}
	if count >= s.maxKeypairs {
		return "", ErrTooManyKeypairs
	}

	publicKey, secretKey, err := cryptobox.GenerateKeypair()
	if err != nil {
		s.logger.Error(ctx, "failed to generate keypair", "error", err)
		return "", common.ErrorInternal
	}

	keypair := &models.Keypair{
		ID:        uuid.NewString(),
		SecretKey: secretKey,
		PublicKey: publicKey,
		ExpireAt:  s.now().Add(keypairTTL),
	}
	if err := repo.Save(ctx, keypair); err != nil {
		s.logger.Error(ctx, "failed to save keypair", "error", err)
		return "", common.ErrorInternal
	}

	s.logger.Debug(ctx, "keypair issued", "id", keypair.ID)
	return publicKey, nil
}

// lookupEffective finds the keypair for a public key and rejects it when
// past its deadline. The expired row is not deleted here; that is the
// reaper's job.
func (s *CredentialService) lookupEffective(ctx context.Context, publicKey string) (*models.Keypair, error) {
	keypair, err := s.rm.Keypairs(s.db).FindByPublicKey(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if !keypair.ExpireAt.After(s.now()) {
		return nil, fmt.Errorf("keypair %s: %w", keypair.ID, ErrKeypairExpired)
	}
	return keypair, nil
}

// ConsumeAndDecrypt claims the keypair matching publicKey and uses its
// secret key to open cipherHex. The claim is a conditional delete: when two
// requests race on one keypair, exactly one sees the row deleted and
// proceeds, the other gets not-found. Decryption happens only after the
// claim, so the key is burned even if the ciphertext turns out garbled.
func (s *CredentialService) ConsumeAndDecrypt(ctx context.Context, publicKey, cipherHex string) (string, error) {
	keypair, err := s.lookupEffective(ctx, publicKey)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, ErrKeypairExpired) {
			return "", err
		}
		s.logger.Error(ctx, "failed to look up keypair", "error", err)
		return "", common.ErrorInternal
	}

	if err := s.rm.Keypairs(s.db).DeleteByID(ctx, keypair.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Lost the consume race.
			return "", err
		}
		s.logger.Error(ctx, "failed to consume keypair", "id", keypair.ID, "error", err)
		return "", common.ErrorInternal
	}

	plaintext, err := cryptobox.OpenHex(keypair.PublicKey, keypair.SecretKey, cipherHex)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// DeleteExpired removes every keypair past its deadline and returns the
// count. Run by the reaper.
func (s *CredentialService) DeleteExpired(ctx context.Context) (int64, error) {
	count, err := s.rm.Keypairs(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired keypairs: %w", err)
	}
	return count, nil
}
