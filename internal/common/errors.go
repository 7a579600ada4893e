// Package common defines sentinel errors shared by the upload pipeline,
// its stores and its adapters. Callers should use errors.Is to match them.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyTerminal is returned when a job that reached a terminal
	// state is cancelled or written again.
	ErrAlreadyTerminal = errors.New("job already terminal")

	// Orchestrator errors.
	ErrConflict          = errors.New("account has an active job")
	ErrSyncInProgress    = errors.New("quota sync already in progress")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrQueueFull         = errors.New("job queue is full")
	ErrClosed            = errors.New("orchestrator closed")

	// ErrNotOwned is returned when a job is being transferred by another
	// process sharing the store.
	ErrNotOwned = errors.New("job is owned by another process")

	// ErrorInternal marks unrecoverable programming errors (malformed records).
	ErrorInternal = errors.New("internal error")
)
