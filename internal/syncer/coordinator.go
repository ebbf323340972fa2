// Package syncer keeps the derived index consistent with the canonical
// store. It decides between cheap per-note deltas and full rebuilds, and
// guarantees no read ever observes a stale index.
package syncer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/varde/mnemo/internal/index"
	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/storage"
)

// DefaultBulkThreshold is the number of notes a single bulk operation may
// touch before the coordinator abandons per-note deltas and marks the
// index stale for one full rebuild. Tunable via config.
const DefaultBulkThreshold = 16

// Coordinator mediates all index access. The mutex makes a rebuild a
// critical section: readers block until it completes and writers are
// serialized against it, so nobody builds against a moving snapshot.
type Coordinator struct {
	store  storage.Store
	idx    *index.DB
	logger *slog.Logger

	bulkThreshold int

	mu    sync.Mutex
	stale bool // forced staleness beyond the generation comparison
}

// New creates a Coordinator. bulkThreshold <= 0 selects the default.
func New(store storage.Store, idx *index.DB, logger *slog.Logger, bulkThreshold int) *Coordinator {
	if bulkThreshold <= 0 {
		bulkThreshold = DefaultBulkThreshold
	}
	return &Coordinator{store: store, idx: idx, logger: logger, bulkThreshold: bulkThreshold}
}

// NoteUpserted signals one committed create or update. The delta is applied
// only when the index reflected every mutation before this one; otherwise
// the index stays stale and the next read rebuilds.
func (c *Coordinator) NoteUpserted(note *models.Note) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyDelta(note.Key, func(gen uint64) error {
		return c.idx.ApplyUpsert(note, gen)
	})
}

// NoteDeleted signals one committed deletion.
func (c *Coordinator) NoteDeleted(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyDelta(key, func(gen uint64) error {
		return c.idx.ApplyDelete(key, gen)
	})
}

// Exceeds reports whether a bulk operation of n notes is over the delta
// threshold. Callers skip per-note signals for such batches and call
// MarkStale once instead, trading n delta transactions for one rebuild.
func (c *Coordinator) Exceeds(n int) bool {
	return n > c.bulkThreshold
}

// MarkStale forces a full rebuild on the next read.
func (c *Coordinator) MarkStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// applyDelta applies fn stamped with the current store generation, falling
// back to staleness when the delta cannot be computed safely. Callers hold
// the mutex.
func (c *Coordinator) applyDelta(key string, fn func(gen uint64) error) {
	if c.stale {
		return // a rebuild is already pending; deltas cannot catch up
	}
	storeGen, err := c.store.Generation()
	if err != nil {
		c.logger.Warn("sync: read store generation failed", slog.String("error", err.Error()))
		c.stale = true
		return
	}
	idxGen, err := c.idx.Generation()
	if err != nil || idxGen != storeGen-1 {
		// The index was already behind before this mutation (first startup,
		// an external writer, or a prior failed delta); only a full rebuild
		// can restore consistency.
		c.stale = true
		return
	}
	if err := fn(storeGen); err != nil {
		c.logger.Warn("sync: delta failed, marking stale",
			slog.String("key", key), slog.String("error", err.Error()))
		c.stale = true
	}
}

// Search answers a query against a guaranteed-fresh index, rebuilding
// synchronously first if needed.
func (c *Coordinator) Search(query string) ([]index.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFresh(); err != nil {
		return nil, err
	}
	results, err := c.idx.Search(query)
	if err != nil {
		if err = c.recover(); err != nil {
			return nil, err
		}
		return c.idx.Search(query)
	}
	return results, nil
}

// Backlinks answers a backlink lookup against a guaranteed-fresh index.
func (c *Coordinator) Backlinks(target string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFresh(); err != nil {
		return nil, err
	}
	out, err := c.idx.Backlinks(target)
	if err != nil {
		if err = c.recover(); err != nil {
			return nil, err
		}
		return c.idx.Backlinks(target)
	}
	return out, nil
}

// Rebuild eagerly rebuilds the index from a full store snapshot.
func (c *Coordinator) Rebuild() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuild()
}

// Refresh rebuilds only when the index is stale. It is the watcher's entry
// point after external processes touch the store; errors are logged, not
// returned, since the next read will retry.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFresh(); err != nil {
		c.logger.Warn("sync: refresh failed", slog.String("error", err.Error()))
	}
}

// ensureFresh rebuilds when the index generation diverges from the store's.
// Callers hold the mutex.
func (c *Coordinator) ensureFresh() error {
	storeGen, err := c.store.Generation()
	if err != nil {
		return err
	}
	idxGen, idxErr := c.idx.Generation()
	if !c.stale && idxErr == nil && idxGen == storeGen {
		return nil
	}
	return c.rebuild()
}

func (c *Coordinator) rebuild() error {
	storeGen, err := c.store.Generation()
	if err != nil {
		return err
	}
	notes, err := c.store.Scan()
	if err != nil {
		return err
	}
	if err := c.idx.Rebuild(notes, storeGen); err != nil {
		// Unreadable index state is recoverable: recreate and rebuild once.
		c.logger.Warn("sync: rebuild failed, recreating index", slog.String("error", err.Error()))
		if err := c.idx.Reset(); err != nil {
			return err
		}
		if err := c.idx.Rebuild(notes, storeGen); err != nil {
			return fmt.Errorf("sync: rebuild after recreate: %w", err)
		}
	}
	c.stale = false
	c.logger.Debug("sync: index rebuilt",
		slog.Int("notes", len(notes)), slog.Uint64("generation", storeGen))
	return nil
}

// recover resets the index after a failed read and rebuilds it. Callers
// hold the mutex.
func (c *Coordinator) recover() error {
	if err := c.idx.Reset(); err != nil {
		return err
	}
	return c.rebuild()
}
