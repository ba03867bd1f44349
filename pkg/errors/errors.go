package apperrors

import "errors"

// Standardized application errors
var (
	ErrInvalidRange    = errors.New("invalid scan range")
	ErrBookNotFound    = errors.New("book not found")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidLoan     = errors.New("invalid loan parameters")
	ErrStoreCorrupted  = errors.New("store data corrupted")
	ErrRateNotSet      = errors.New("no rate set")
)
