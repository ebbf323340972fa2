// Package noteservice exposes the note operation surface: CRUD, tagging,
// listing, export/import, and index-backed search and backlinks. Any front
// end (CLI, HTTP, MCP) calls these plain operations.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/varde/mnemo/internal/apperr"
	"github.com/varde/mnemo/internal/checksum"
	"github.com/varde/mnemo/internal/index"
	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/storage"
	"github.com/varde/mnemo/internal/syncer"
)

// EventCallback is invoked after each committed note mutation.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind, key string)

// NoteDetail is the full representation of a note, enriched with backlinks
// and a content checksum for optimistic concurrency.
type NoteDetail struct {
	Key        string        `json:"key"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Tags       []string      `json:"tags"`
	Tasks      []models.Task `json:"tasks"`
	Checksum   string        `json:"checksum"`
	Backlinks  []string      `json:"backlinks"`
	CreatedAt  time.Time     `json:"created_at"`
	ModifiedAt time.Time     `json:"modified_at"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Service coordinates the canonical store and the sync coordinator.
type Service struct {
	store  storage.Store
	coord  *syncer.Coordinator
	events EventCallback
	now    func() time.Time
}

// NewService creates a new note service. events may be nil.
func NewService(store storage.Store, coord *syncer.Coordinator, events EventCallback) *Service {
	return &Service{store: store, coord: coord, events: events, now: time.Now}
}

// Create writes a new note. The key must be unused and valid.
func (s *Service) Create(_ context.Context, key, title, body string, tags []string) (*NoteDetail, error) {
	now := s.now().UTC()
	note := &models.Note{
		Key:        key,
		Title:      title,
		Body:       body,
		Tags:       dedupe(tags),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := s.store.Create(note); err != nil {
		return nil, err
	}
	s.coord.NoteUpserted(note)
	s.emit("created", key)
	return s.detail(note)
}

// Get returns a note enriched with its backlinks.
func (s *Service) Get(_ context.Context, key string) (*NoteDetail, error) {
	note, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	return s.detail(note)
}

// UpdateBody replaces a note's body. When ifMatch is non-empty it must
// equal the current content checksum, or the update fails with
// apperr.ErrConflict and the prior record is left intact.
func (s *Service) UpdateBody(ctx context.Context, key, body, ifMatch string) (*NoteDetail, error) {
	return s.mutate(ctx, key, ifMatch, func(n *models.Note) bool {
		if n.Body == body {
			return false
		}
		n.Body = body
		return true
	})
}

// UpdateTitle replaces a note's title.
func (s *Service) UpdateTitle(ctx context.Context, key, title string) (*NoteDetail, error) {
	return s.mutate(ctx, key, "", func(n *models.Note) bool {
		if n.Title == title {
			return false
		}
		n.Title = title
		return true
	})
}

// AddTag adds a tag to a note. Adding an existing tag is a no-op.
func (s *Service) AddTag(ctx context.Context, key, tag string) (*NoteDetail, error) {
	if tag == "" {
		return nil, fmt.Errorf("noteservice: empty tag: %w", apperr.ErrInvalidKey)
	}
	return s.mutate(ctx, key, "", func(n *models.Note) bool {
		if n.HasTag(tag) {
			return false
		}
		n.Tags = append(n.Tags, tag)
		return true
	})
}

// RemoveTag removes a tag from a note. Removing an absent tag is a no-op.
func (s *Service) RemoveTag(ctx context.Context, key, tag string) (*NoteDetail, error) {
	return s.mutate(ctx, key, "", func(n *models.Note) bool {
		if !n.HasTag(tag) {
			return false
		}
		out := n.Tags[:0]
		for _, t := range n.Tags {
			if t != tag {
				out = append(out, t)
			}
		}
		n.Tags = out
		return true
	})
}

// Delete removes a note and, because tasks live inside the record, all its
// tasks in the same atomic store mutation.
func (s *Service) Delete(_ context.Context, key string) error {
	if err := s.store.Delete(key); err != nil {
		return err
	}
	s.coord.NoteDeleted(key)
	s.emit("deleted", key)
	return nil
}

// List returns all notes, optionally filtered by tag, sorted by the given
// selector (key ascending; created and modified most recent first).
func (s *Service) List(_ context.Context, sortBy models.SortBy, tag string) ([]NoteListItem, error) {
	notes, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	var items []NoteListItem
	for i := range notes {
		n := &notes[i]
		if tag != "" && !n.HasTag(tag) {
			continue
		}
		items = append(items, NoteListItem{
			Key:        n.Key,
			Title:      n.Title,
			Tags:       nonNilSlice(n.Tags),
			CreatedAt:  n.CreatedAt,
			ModifiedAt: n.ModifiedAt,
		})
	}
	switch sortBy {
	case models.SortByCreated:
		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	case models.SortByModified:
		sort.Slice(items, func(i, j int) bool { return items[i].ModifiedAt.After(items[j].ModifiedAt) })
	default:
		sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	}
	return items, nil
}

// ExportAll returns full records, sorted by key, for external
// serialization. A non-empty tag restricts the export to notes carrying
// that tag.
func (s *Service) ExportAll(_ context.Context, tag string) ([]models.Note, error) {
	notes, err := s.store.Scan()
	if err != nil {
		return nil, err
	}
	var out []models.Note
	for i := range notes {
		if tag != "" && !notes[i].HasTag(tag) {
			continue
		}
		out = append(out, notes[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ImportOne inserts a record according to the conflict policy. It reports
// whether the record was written. Task identifiers carried by the record
// advance the store counter so they are never reallocated.
func (s *Service) ImportOne(_ context.Context, note *models.Note, policy models.ConflictPolicy) (bool, error) {
	written, err := s.importRecord(note, policy)
	if err != nil || !written {
		return written, err
	}
	s.coord.NoteUpserted(note)
	s.emit("created", note.Key)
	return true, nil
}

// ImportMany imports a batch under one conflict policy and returns the
// number of records written. Batches above the coordinator's bulk
// threshold skip per-note deltas and schedule one full rebuild instead.
func (s *Service) ImportMany(_ context.Context, notes []*models.Note, policy models.ConflictPolicy) (written int, err error) {
	bulk := s.coord.Exceeds(len(notes))
	defer func() {
		if bulk && written > 0 {
			s.coord.MarkStale()
		}
	}()
	for _, note := range notes {
		ok, importErr := s.importRecord(note, policy)
		if importErr != nil {
			return written, importErr
		}
		if !ok {
			continue
		}
		written++
		if !bulk {
			s.coord.NoteUpserted(note)
		}
		s.emit("created", note.Key)
	}
	return written, nil
}

func (s *Service) importRecord(note *models.Note, policy models.ConflictPolicy) (bool, error) {
	now := s.now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	if note.ModifiedAt.IsZero() {
		note.ModifiedAt = now
	}
	note.Tags = dedupe(note.Tags)

	err := s.store.Create(note)
	switch {
	case err == nil:
	case isAlreadyExists(err):
		switch policy {
		case models.ConflictSkip:
			return false, nil
		case models.ConflictOverwrite:
			if err := s.store.Update(note); err != nil {
				return false, err
			}
		default:
			return false, err
		}
	default:
		return false, err
	}

	var maxID uint64
	for _, task := range note.Tasks {
		if task.ID > maxID {
			maxID = task.ID
		}
	}
	if maxID > 0 {
		if err := s.store.BumpTaskCounterTo(maxID); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Search delegates to the coordinator, which guarantees a fresh index.
func (s *Service) Search(_ context.Context, query string) ([]index.SearchResult, error) {
	return s.coord.Search(query)
}

// Backlinks returns all note keys referencing target.
func (s *Service) Backlinks(_ context.Context, target string) ([]string, error) {
	return s.coord.Backlinks(target)
}

// Rebuild eagerly rebuilds the derived index.
func (s *Service) Rebuild(_ context.Context) error {
	return s.coord.Rebuild()
}

// mutate loads, transforms, and rewrites one note record. When the
// transform reports no change, nothing is written and the generation does
// not advance.
func (s *Service) mutate(_ context.Context, key, ifMatch string, fn func(*models.Note) bool) (*NoteDetail, error) {
	note, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Note(note) {
		return nil, fmt.Errorf("noteservice: checksum mismatch for %s: %w", key, apperr.ErrConflict)
	}
	if !fn(note) {
		return s.detail(note)
	}
	note.ModifiedAt = s.now().UTC()
	if err := s.store.Update(note); err != nil {
		return nil, err
	}
	s.coord.NoteUpserted(note)
	s.emit("updated", key)
	return s.detail(note)
}

func (s *Service) detail(note *models.Note) (*NoteDetail, error) {
	bl, err := s.coord.Backlinks(note.Key)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Key:        note.Key,
		Title:      note.Title,
		Body:       note.Body,
		Tags:       nonNilSlice(note.Tags),
		Tasks:      nonNilSlice(note.Tasks),
		Checksum:   checksum.Note(note),
		Backlinks:  nonNilSlice(bl),
		CreatedAt:  note.CreatedAt,
		ModifiedAt: note.ModifiedAt,
	}, nil
}

func (s *Service) emit(kind, key string) {
	if s.events != nil {
		s.events(kind, key)
	}
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, apperr.ErrAlreadyExists)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
