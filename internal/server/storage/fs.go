package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tempcab/cabinet/internal/common"
)

// FileStore keeps payloads on the local filesystem under
// <root>/<cabinet_code>/<item_id>.
type FileStore struct {
	root string
}

// NewFileStore creates the content root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o770); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) cabinetDir(cabinetCode int64) string {
	return filepath.Join(s.root, strconv.FormatInt(cabinetCode, 10))
}

func (s *FileStore) itemPath(cabinetCode int64, itemID string) string {
	return filepath.Join(s.cabinetDir(cabinetCode), itemID)
}

func (s *FileStore) Write(ctx context.Context, cabinetCode int64, itemID string, content []byte) error {
	dir := s.cabinetDir(cabinetCode)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := s.itemPath(cabinetCode, itemID)
	if err := os.WriteFile(path, content, 0o660); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context, cabinetCode int64, itemID string) ([]byte, error) {
	path := s.itemPath(cabinetCode, itemID)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

func (s *FileStore) Delete(ctx context.Context, cabinetCode int64, itemID string) error {
	path := s.itemPath(cabinetCode, itemID)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return common.ErrorNotFound
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) DeleteAll(ctx context.Context, cabinetCode int64) error {
	// RemoveAll succeeds on a missing directory, which is what we want:
	// a cabinet without file items has no directory.
	if err := os.RemoveAll(s.cabinetDir(cabinetCode)); err != nil {
		return fmt.Errorf("remove cabinet content %d: %w", cabinetCode, err)
	}
	return nil
}
