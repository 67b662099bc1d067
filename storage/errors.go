package storage

import "errors"

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
	// ErrRejected is returned when a store refuses bytes that are not a
	// valid protected artifact.
	ErrRejected = errors.New("storage: artifact rejected")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
