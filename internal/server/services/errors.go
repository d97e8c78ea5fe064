package services

import "errors"

// Validation errors: rejected before any mutation.
var (
	ErrPasswordRequired  = errors.New("password is required")
	ErrExpiryRequired    = errors.New("expire time is required")
	ErrHoldTokenRequired = errors.New("hold token is required")
	ErrInvalidHoldHours  = errors.New("hold hours out of range")
	ErrEmptyItemContent  = errors.New("item content must not be empty")
	ErrTextTooLarge      = errors.New("text item too large")
	ErrFileTooLarge      = errors.New("file item too large")
	ErrPayloadTooLarge   = errors.New("total payload too large")
)

// Ownership/authorization errors: surfaced to clients behind one generic
// message so a caller cannot tell which check failed.
var (
	ErrNotCabinetHolder = errors.New("not the holder of this cabinet")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrKeypairExpired   = errors.New("keypair expired")
)

// Resource-exhaustion errors: the caller is expected to retry later.
var (
	ErrCapacityExhausted  = errors.New("no cabinet capacity available")
	ErrCodeSpaceExhausted = errors.New("could not draw a free cabinet code")
	ErrTooManyKeypairs    = errors.New("too many outstanding keypairs")
)
