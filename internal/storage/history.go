package storage

import (
	"context"
	"errors"

	"personarelay/internal/models"
)

// ErrStorage marks history persistence failures. Callers must surface them.
var ErrStorage = errors.New("history storage failure")

// HistoryStore is an append-only transcript per (owner, character).
type HistoryStore interface {
	// Append adds entry at the end of the transcript.
	Append(ctx context.Context, owner, character string, entry models.HistoryEntry) error
	// ReadAll returns the transcript in insertion order; an empty slice when
	// nothing was recorded yet.
	ReadAll(ctx context.Context, owner, character string) ([]models.HistoryEntry, error)
	// Setup prepares storage for a character. It is idempotent.
	Setup(ctx context.Context, owner, character string) error
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string { return e.op + ": " + e.err.Error() }

func (e *storageError) Unwrap() []error { return []error{ErrStorage, e.err} }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, err: err}
}
