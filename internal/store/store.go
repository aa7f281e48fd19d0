// Package store persists board entities behind read/replace-with-version
// semantics. Every mutating write carries the version the caller read; the
// store commits only when the stored version still matches and bumps it by
// one, otherwise the write fails with ErrStaleWrite. The coordinator in
// internal/app layers a bounded retry loop on top of that.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleWrite is returned when a version-guarded replace loses to
	// a concurrent writer. Callers re-read and retry or give up.
	ErrStaleWrite = errors.New("record changed since it was read")
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt"`
}
