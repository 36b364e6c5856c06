package storage

import "errors"

var (
	ErrStorageClosed   = errors.New("storage: closed")
	ErrValueOutOfRange = errors.New("storage: value out of range")
	ErrInvalidID       = errors.New("storage: invalid record id")
	ErrTooManyLabels   = errors.New("storage: too many labels for inline node record")
	ErrCorruptPage     = errors.New("storage: corrupt page")
	ErrUnknownIndex    = errors.New("storage: unknown index")
)
