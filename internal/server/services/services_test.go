package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/dbx"
	"github.com/tempcab/cabinet/internal/logging"
	"github.com/tempcab/cabinet/internal/server/models"
	"github.com/tempcab/cabinet/internal/server/repositories/cabinets"
	"github.com/tempcab/cabinet/internal/server/repositories/items"
	"github.com/tempcab/cabinet/internal/server/repositories/keypairs"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeCabinetRepo is an in-memory cabinets.Repository. saveErrs is popped
// one error per Save call before normal behavior, to simulate lost insert
// races.
type fakeCabinetRepo struct {
	mu       sync.Mutex
	rows     map[int64]*models.Cabinet
	saveErrs []error
}

func newFakeCabinetRepo() *fakeCabinetRepo {
	return &fakeCabinetRepo{rows: make(map[int64]*models.Cabinet)}
}

func (r *fakeCabinetRepo) Save(ctx context.Context, cabinet *models.Cabinet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saveErrs) > 0 {
		err := r.saveErrs[0]
		r.saveErrs = r.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := r.rows[cabinet.Code]; ok {
		return cabinets.ErrCodeTaken
	}
	c := *cabinet
	c.Version = 1
	r.rows[c.Code] = &c
	return nil
}

func (r *fakeCabinetRepo) UpdateByCode(ctx context.Context, cabinet *models.Cabinet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[cabinet.Code]
	if !ok {
		return common.ErrorNotFound
	}
	c := *cabinet
	c.Version = existing.Version + 1
	r.rows[c.Code] = &c
	return nil
}

func (r *fakeCabinetRepo) DeleteByCode(ctx context.Context, code int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[code]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, code)
	return nil
}

func (r *fakeCabinetRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for code, c := range r.rows {
		if !c.ExpireAt.After(now) {
			delete(r.rows, code)
			count++
		}
	}
	return count, nil
}

func (r *fakeCabinetRepo) CountByStatus(ctx context.Context, status models.CabinetStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, c := range r.rows {
		if c.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *fakeCabinetRepo) ExistsByCode(ctx context.Context, code int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[code]
	return ok, nil
}

func (r *fakeCabinetRepo) FindByCode(ctx context.Context, code int64) (*models.Cabinet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[code]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *c
	return &out, nil
}

type fakeItemRepo struct {
	mu   sync.Mutex
	rows map[string]*models.CabinetItem
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{rows: make(map[string]*models.CabinetItem)}
}

func (r *fakeItemRepo) Save(ctx context.Context, item *models.CabinetItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := *item
	i.Content = nil
	r.rows[i.ID] = &i
	return nil
}

func (r *fakeItemRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeItemRepo) FindByID(ctx context.Context, id string) (*models.CabinetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *i
	return &out, nil
}

func (r *fakeItemRepo) ListByCabinetCode(ctx context.Context, cabinetCode int64) ([]*models.CabinetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CabinetItem
	for _, i := range r.rows {
		if i.CabinetCode == cabinetCode {
			item := *i
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	return out, nil
}

type fakeKeypairRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Keypair
}

func newFakeKeypairRepo() *fakeKeypairRepo {
	return &fakeKeypairRepo{rows: make(map[string]*models.Keypair)}
}

func (r *fakeKeypairRepo) Save(ctx context.Context, keypair *models.Keypair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := *keypair
	r.rows[k.ID] = &k
	return nil
}

func (r *fakeKeypairRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeKeypairRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, k := range r.rows {
		if !k.ExpireAt.After(now) {
			delete(r.rows, id)
			count++
		}
	}
	return count, nil
}

func (r *fakeKeypairRepo) FindByPublicKey(ctx context.Context, publicKey string) (*models.Keypair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.rows {
		if k.PublicKey == publicKey {
			out := *k
			return &out, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeKeypairRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

// fakeRepoManager hands out the same in-memory repositories regardless of
// the DBTX they are asked to bind to.
type fakeRepoManager struct {
	cabinets *fakeCabinetRepo
	items    *fakeItemRepo
	keypairs *fakeKeypairRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		cabinets: newFakeCabinetRepo(),
		items:    newFakeItemRepo(),
		keypairs: newFakeKeypairRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *fakeRepoManager) Cabinets(db dbx.DBTX) cabinets.Repository            { return m.cabinets }
func (m *fakeRepoManager) Items(db dbx.DBTX) items.Repository                  { return m.items }
func (m *fakeRepoManager) Keypairs(db dbx.DBTX) keypairs.Repository            { return m.keypairs }

// fakeContentStore keeps payloads in a map keyed <code>/<id>. writeErr, when
// set, fails the next Write.
type fakeContentStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	writeErr error
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{objects: make(map[string][]byte)}
}

func (s *fakeContentStore) key(code int64, id string) string {
	return fmt.Sprintf("%d/%s", code, id)
}

func (s *fakeContentStore) Write(ctx context.Context, cabinetCode int64, itemID string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		err := s.writeErr
		s.writeErr = nil
		return err
	}
	s.objects[s.key(cabinetCode, itemID)] = append([]byte(nil), content...)
	return nil
}

func (s *fakeContentStore) Read(ctx context.Context, cabinetCode int64, itemID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[s.key(cabinetCode, itemID)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), content...), nil
}

func (s *fakeContentStore) Delete(ctx context.Context, cabinetCode int64, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(cabinetCode, itemID)
	if _, ok := s.objects[key]; !ok {
		return common.ErrorNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeContentStore) DeleteAll(ctx context.Context, cabinetCode int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := fmt.Sprintf("%d/", cabinetCode)
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *fakeContentStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var errBoom = errors.New("boom")
