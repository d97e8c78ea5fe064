// Package httpapi exposes the cabinet service over HTTP: JSON responses,
// a multipart occupy endpoint and sealed-box password proofs on every
// protected route.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/tempcab/cabinet/internal/logging"
	"github.com/tempcab/cabinet/internal/server/models"
)

// CabinetOps is the slice of the cabinet service the handlers use.
type CabinetOps interface {
	Apply(ctx context.Context) (*models.Cabinet, error)
	Save(ctx context.Context, draft *models.Cabinet, items []*models.CabinetItem) (*models.Cabinet, error)
	DeleteByCode(ctx context.Context, code int64) error
	Usage(ctx context.Context) (models.CabinetUsage, error)
	GetByCode(ctx context.Context, code int64) (*models.Cabinet, error)
	ListItems(ctx context.Context, code int64) ([]*models.CabinetItem, error)
	GetItem(ctx context.Context, id string, withContent bool) (*models.CabinetItem, error)
}

// CredentialOps is the slice of the credential service the handlers use.
type CredentialOps interface {
	Issue(ctx context.Context) (string, error)
	ConsumeAndDecrypt(ctx context.Context, publicKey, cipherHex string) (string, error)
}

type Server struct {
	cabinets    CabinetOps
	credentials CredentialOps
	logger      logging.Logger
}

func New(cabinets CabinetOps, credentials CredentialOps, logger logging.Logger) *Server {
	return &Server{
		cabinets:    cabinets,
		credentials: credentials,
		logger:      logger.With("module", "httpapi"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/cabinet/apply", s.handleApply)
	mux.HandleFunc("GET /api/cabinet/usage", s.handleUsage)
	mux.HandleFunc("GET /api/cabinet/{code}", s.handleGetCabinet)
	mux.HandleFunc("POST /api/cabinet/{code}", s.handleOccupy)
	mux.HandleFunc("DELETE /api/cabinet/{code}", s.handleDeleteCabinet)
	mux.HandleFunc("POST /api/cabinet/{code}/items", s.handleListItems)
	mux.HandleFunc("POST /api/cabinet/{code}/item/{id}/content", s.handleItemContent)
	mux.HandleFunc("GET /api/crypto/public-key", s.handlePublicKey)

	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
