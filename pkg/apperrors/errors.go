package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidConcept   = errors.New("opportunity has no usable concept text")
	ErrStoreUnavailable = errors.New("concept store unavailable")
	ErrAlreadyScored    = errors.New("concept already scored")
)
