package storage

import "errors"

var (
	// ErrNotFound is returned when a requested checkpoint is not found in storage
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed is returned when attempting to use a closed storage instance
	ErrStoreClosed = errors.New("storage is closed")

	// ErrInvalidCheckpoint is returned when a checkpoint cannot be keyed
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
