// Package taskservice implements the task subsystem: per-note to-do items
// with store-wide identifiers, addressed by ID alone.
package taskservice

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/varde/mnemo/internal/apperr"
	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/storage"
	"github.com/varde/mnemo/internal/syncer"
)

// EventCallback is invoked after each committed task mutation.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, id uint64)

// Service coordinates task operations against the canonical store. Tasks
// live inside their owning note's record, so every mutation is one atomic
// record rewrite followed by a single coordinator delta.
type Service struct {
	store  storage.Store
	coord  *syncer.Coordinator
	events EventCallback
	now    func() time.Time
}

// NewService creates a new task service. events may be nil.
func NewService(store storage.Store, coord *syncer.Coordinator, events EventCallback) *Service {
	return &Service{store: store, coord: coord, events: events, now: time.Now}
}

// Add creates a task on an existing note and returns its identifier.
// The note is checked first so a missing key never advances the counter.
func (s *Service) Add(_ context.Context, noteKey, description string) (uint64, error) {
	note, err := s.store.Get(noteKey)
	if err != nil {
		return 0, err
	}
	id, err := s.store.NextTaskID()
	if err != nil {
		return 0, err
	}
	note.Tasks = append(note.Tasks, models.Task{
		ID:          id,
		NoteKey:     noteKey,
		Description: description,
		Status:      models.TaskOpen,
		CreatedAt:   s.now().UTC(),
	})
	if err := s.store.Update(note); err != nil {
		return 0, err
	}
	s.coord.NoteUpserted(note)
	s.emit("created", id)
	return id, nil
}

// Done marks the task done.
func (s *Service) Done(ctx context.Context, id uint64) error {
	return s.mutate(ctx, id, "updated", func(t *models.Task) { t.Status = models.TaskDone })
}

// Prio flags the task as priority.
func (s *Service) Prio(ctx context.Context, id uint64) error {
	return s.mutate(ctx, id, "updated", func(t *models.Task) { t.Priority = true })
}

// Delete removes the task. Its identifier is never reused.
func (s *Service) Delete(_ context.Context, id uint64) error {
	note, i, err := s.find(id)
	if err != nil {
		return err
	}
	note.Tasks = append(note.Tasks[:i], note.Tasks[i+1:]...)
	if err := s.store.Update(note); err != nil {
		return err
	}
	s.coord.NoteUpserted(note)
	s.emit("deleted", id)
	return nil
}

// List returns every task ordered by priority descending, then open before
// done, then identifier ascending.
func (s *Service) List(_ context.Context) ([]models.Task, error) {
	notes, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	var tasks []models.Task
	for i := range notes {
		tasks = append(tasks, notes[i].Tasks...)
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		if a.Status != b.Status {
			return a.Status == models.TaskOpen
		}
		return a.ID < b.ID
	})
	return tasks, nil
}

// ResetAll deletes every task and resets the identifier counter.
func (s *Service) ResetAll(_ context.Context) (int, error) {
	notes, err := s.store.Scan()
	if err != nil {
		return 0, err
	}
	removed := 0
	mutated := 0
	bulk := s.coord.Exceeds(len(notes))
	for i := range notes {
		n := &notes[i]
		if len(n.Tasks) == 0 {
			continue
		}
		removed += len(n.Tasks)
		n.Tasks = nil
		if err := s.store.Update(n); err != nil {
			return removed, err
		}
		mutated++
		if !bulk {
			s.coord.NoteUpserted(n)
		}
	}
	if bulk && mutated > 0 {
		s.coord.MarkStale()
	}
	if err := s.store.ResetTaskCounter(); err != nil {
		return removed, err
	}
	s.emit("deleted", 0)
	return removed, nil
}

// mutate rewrites the owning note record with the task transformed.
func (s *Service) mutate(_ context.Context, id uint64, kind string, fn func(*models.Task)) error {
	note, i, err := s.find(id)
	if err != nil {
		return err
	}
	fn(&note.Tasks[i])
	if err := s.store.Update(note); err != nil {
		return err
	}
	s.coord.NoteUpserted(note)
	s.emit(kind, id)
	return nil
}

// find locates the note owning task id. Bounded by store size; identifiers
// are globally unique so the first hit is the only one.
func (s *Service) find(id uint64) (*models.Note, int, error) {
	notes, err := s.store.Scan()
	if err != nil {
		return nil, 0, err
	}
	for i := range notes {
		for j := range notes[i].Tasks {
			if notes[i].Tasks[j].ID == id {
				return &notes[i], j, nil
			}
		}
	}
	return nil, 0, fmt.Errorf("taskservice: task %d: %w", id, apperr.ErrNotFound)
}

func (s *Service) emit(kind string, id uint64) {
	if s.events != nil {
		s.events(kind, id)
	}
}
