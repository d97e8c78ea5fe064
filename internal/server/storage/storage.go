// Package storage provides byte-addressable content storage for cabinet
// item payloads, keyed by (cabinet code, item id).
package storage

import "context"

// ContentStore stores item payload bytes outside the metadata database.
// Read and Delete return common.ErrorNotFound for missing content.
type ContentStore interface {
	Write(ctx context.Context, cabinetCode int64, itemID string, content []byte) error
	Read(ctx context.Context, cabinetCode int64, itemID string) ([]byte, error)
	Delete(ctx context.Context, cabinetCode int64, itemID string) error

	// DeleteAll removes every payload belonging to one cabinet. Used on
	// cabinet deletion; also collects content orphaned by rolled-back
	// occupy transactions for that cabinet.
	DeleteAll(ctx context.Context, cabinetCode int64) error
}
