package domain

import "errors"

var (
	ErrMalformedReport  = errors.New("malformed score report")
	ErrPersistenceWrite = errors.New("score persistence write failed")
	ErrDataUnavailable  = errors.New("score data unavailable")
	ErrInvalidKey       = errors.New("invalid player or game id")
	// ErrNotFound means the store has no record for the key yet.
	ErrNotFound = errors.New("score record not found")
)
