package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/cryptobox"
	"github.com/tempcab/cabinet/internal/server/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "failed to encode response", "error", err)
	}
}

// writeError maps service errors to status codes. Every authorization
// failure collapses into one 403 so a caller cannot probe which check
// rejected it, and internal failures stay opaque.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var badReq *badRequestError
	switch {
	case errors.As(err, &badReq):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: badReq.msg})

	case errors.Is(err, services.ErrPasswordRequired),
		errors.Is(err, services.ErrExpiryRequired),
		errors.Is(err, services.ErrHoldTokenRequired),
		errors.Is(err, services.ErrInvalidHoldHours),
		errors.Is(err, services.ErrEmptyItemContent),
		errors.Is(err, services.ErrTextTooLarge),
		errors.Is(err, services.ErrFileTooLarge),
		errors.Is(err, services.ErrPayloadTooLarge):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

	case errors.Is(err, common.ErrorNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})

	case errors.Is(err, services.ErrNotCabinetHolder),
		errors.Is(err, services.ErrInvalidPassword),
		errors.Is(err, services.ErrKeypairExpired),
		errors.Is(err, cryptobox.ErrDecryptionFailed):
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "invalid credentials"})

	case errors.Is(err, services.ErrCapacityExhausted),
		errors.Is(err, services.ErrCodeSpaceExhausted),
		errors.Is(err, services.ErrTooManyKeypairs):
		s.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})

	default:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }
