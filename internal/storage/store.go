// Package storage implements the canonical key→record store: the sole
// source of truth for notes, the task-ID counter, and the generation stamp.
package storage

import "github.com/varde/mnemo/internal/models"

// Store is the interface for canonical note-record operations.
type Store interface {
	// Create writes a new record; it fails with apperr.ErrAlreadyExists
	// when the key is already live.
	Create(note *models.Note) error
	// Update overwrites an existing record; it fails with
	// apperr.ErrNotFound when the key is absent.
	Update(note *models.Note) error
	// Get returns the record for key, or apperr.ErrNotFound.
	Get(key string) (*models.Note, error)
	// Delete removes the record for key (cascading its tasks, which live
	// inside the record), or returns apperr.ErrNotFound.
	Delete(key string) error
	// Scan returns every record. Order is unspecified; callers sort.
	Scan() ([]models.Note, error)
	// NextTaskID atomically allocates the next task identifier.
	// Identifiers are monotonic and never reused, even across restarts.
	NextTaskID() (uint64, error)
	// ResetTaskCounter sets the task identifier counter back to zero.
	ResetTaskCounter() error
	// BumpTaskCounterTo raises the counter to at least n, so imported
	// records never cause identifier reuse. Lower values are ignored.
	BumpTaskCounterTo(n uint64) error
	// Generation returns the current change-stamp. It increments exactly
	// once per committed note mutation.
	Generation() (uint64, error)
}
