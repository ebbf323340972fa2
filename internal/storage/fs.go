package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/varde/mnemo/internal/apperr"
	"github.com/varde/mnemo/internal/models"
)

const (
	notesDir = "notes"
	metaFile = "meta.json"
)

// FS implements Store backed by the local file system: one JSON record per
// key under <root>/notes, plus a meta file carrying the generation stamp
// and the task-ID counter.
type FS struct {
	root string // absolute path to the store directory
	lock *fileLock
}

// meta is the persisted counter record. The generation is committed before
// the note record it covers, so a crash between the two commits can only
// cause a spurious rebuild, never a stale index that believes itself fresh.
type meta struct {
	Generation  uint64 `json:"generation"`
	TaskCounter uint64 `json:"task_counter"`
}

// NewFS creates a new FS store rooted at the given directory, creating it
// if needed.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, notesDir), 0o755); err != nil {
		return nil, unavailable("init root", err)
	}
	return &FS{root: abs, lock: newFileLock(filepath.Join(abs, ".lock"))}, nil
}

// NotesDir returns the directory holding the note records, for watchers.
func (f *FS) NotesDir() string {
	return filepath.Join(f.root, notesDir)
}

// validateKey rejects empty keys and keys containing path separators, so a
// key can never name a file outside the notes directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("storage: empty key: %w", apperr.ErrInvalidKey)
	}
	if key == "." || key == ".." || strings.ContainsAny(key, `/\`) || key != filepath.Base(key) {
		return fmt.Errorf("storage: key %q: %w", key, apperr.ErrInvalidKey)
	}
	return nil
}

func (f *FS) recordPath(key string) string {
	return filepath.Join(f.root, notesDir, key+".json")
}

// Create writes a new record, failing when the key is already live.
func (f *FS) Create(note *models.Note) error {
	if err := validateKey(note.Key); err != nil {
		return err
	}
	return f.locked(func() error {
		if _, err := os.Stat(f.recordPath(note.Key)); err == nil {
			return fmt.Errorf("storage: key %q: %w", note.Key, apperr.ErrAlreadyExists)
		}
		return f.commit(note)
	})
}

// Update overwrites an existing record, failing when the key is absent.
func (f *FS) Update(note *models.Note) error {
	if err := validateKey(note.Key); err != nil {
		return err
	}
	return f.locked(func() error {
		if _, err := os.Stat(f.recordPath(note.Key)); err != nil {
			return fmt.Errorf("storage: key %q: %w", note.Key, apperr.ErrNotFound)
		}
		return f.commit(note)
	})
}

// Get returns the record for key.
func (f *FS) Get(key string) (*models.Note, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.recordPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: key %q: %w", key, apperr.ErrNotFound)
		}
		return nil, unavailable("read "+key, err)
	}
	var note models.Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return &note, nil
}

// Delete removes the record for key. Tasks live inside the record, so the
// cascade is a single atomic removal.
func (f *FS) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return f.locked(func() error {
		if _, err := os.Stat(f.recordPath(key)); err != nil {
			return fmt.Errorf("storage: key %q: %w", key, apperr.ErrNotFound)
		}
		if err := f.bumpGeneration(); err != nil {
			return err
		}
		if err := os.Remove(f.recordPath(key)); err != nil {
			return unavailable("delete "+key, err)
		}
		return nil
	})
}

// Scan returns every record in the store.
func (f *FS) Scan() ([]models.Note, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, notesDir))
	if err != nil {
		return nil, unavailable("scan", err)
	}
	var out []models.Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.root, notesDir, e.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // removed mid-scan
			}
			return nil, unavailable("scan "+e.Name(), err)
		}
		var note models.Note
		if err := json.Unmarshal(data, &note); err != nil {
			return nil, fmt.Errorf("storage: decode %s: %w", e.Name(), err)
		}
		out = append(out, note)
	}
	return out, nil
}

// NextTaskID atomically allocates the next task identifier.
func (f *FS) NextTaskID() (uint64, error) {
	var id uint64
	err := f.locked(func() error {
		m, err := f.readMeta()
		if err != nil {
			return err
		}
		m.TaskCounter++
		id = m.TaskCounter
		return f.writeMeta(m)
	})
	return id, err
}

// ResetTaskCounter sets the task identifier counter back to zero.
func (f *FS) ResetTaskCounter() error {
	return f.locked(func() error {
		m, err := f.readMeta()
		if err != nil {
			return err
		}
		m.TaskCounter = 0
		return f.writeMeta(m)
	})
}

// BumpTaskCounterTo raises the counter to at least n.
func (f *FS) BumpTaskCounterTo(n uint64) error {
	return f.locked(func() error {
		m, err := f.readMeta()
		if err != nil {
			return err
		}
		if m.TaskCounter >= n {
			return nil
		}
		m.TaskCounter = n
		return f.writeMeta(m)
	})
}

// Generation returns the current change-stamp.
func (f *FS) Generation() (uint64, error) {
	m, err := f.readMeta()
	if err != nil {
		return 0, err
	}
	return m.Generation, nil
}

// commit bumps the generation, then atomically replaces the note record.
// Callers hold the write lock.
func (f *FS) commit(note *models.Note) error {
	if err := f.bumpGeneration(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(note, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", note.Key, err)
	}
	return f.writeAtomic(f.recordPath(note.Key), data)
}

func (f *FS) bumpGeneration() error {
	m, err := f.readMeta()
	if err != nil {
		return err
	}
	m.Generation++
	return f.writeMeta(m)
}

func (f *FS) readMeta() (*meta, error) {
	data, err := os.ReadFile(filepath.Join(f.root, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f.recoveredMeta(), nil
		}
		return nil, unavailable("read meta", err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		// A torn or garbled meta file must not block reads or writes.
		return f.recoveredMeta(), nil
	}
	return &m, nil
}

// recoveredMeta stands in for a lost meta file. When note records exist
// the generation restarts at one rather than zero, so an empty index
// (generation zero) can never pass the freshness check against a store
// whose history was lost.
func (f *FS) recoveredMeta() *meta {
	entries, err := os.ReadDir(filepath.Join(f.root, notesDir))
	if err != nil {
		return &meta{}
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			return &meta{Generation: 1}
		}
	}
	return &meta{}
}

func (f *FS) writeMeta(m *meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage: encode meta: %w", err)
	}
	return f.writeAtomic(filepath.Join(f.root, metaFile), data)
}

// writeAtomic writes content via tmp file → fsync → rename so readers never
// observe a torn record.
func (f *FS) writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mnemo-tmp-*")
	if err != nil {
		return unavailable("create temp", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return unavailable("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return unavailable("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("close temp", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return unavailable("rename", err)
	}
	success = true
	return nil
}

// locked runs fn while holding the cross-process write lock.
func (f *FS) locked(fn func() error) error {
	if err := f.lock.acquire(); err != nil {
		return err
	}
	defer f.lock.release()
	return fn()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("storage: %s: %w", op, errors.Join(apperr.ErrStoreUnavailable, err))
}
