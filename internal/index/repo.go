package index

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/parser"
)

// Rebuild replaces all derived structures from a full store snapshot in a
// single transaction, stamped with the store generation it was built from.
// Readers observe either the old complete index or the new one, never a
// mix. Insertion order is deterministic (notes by key, terms sorted) so
// repeated rebuilds of the same snapshot produce identical structures.
func (db *DB) Rebuild(notes []models.Note, generation uint64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin rebuild tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM notes`); err != nil {
		return fmt.Errorf("index: clear notes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM postings`); err != nil {
		return fmt.Errorf("index: clear postings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM links`); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}

	sorted := make([]models.Note, len(notes))
	copy(sorted, notes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	for i := range sorted {
		if err := insertNote(tx, &sorted[i]); err != nil {
			return err
		}
	}
	if err := setGeneration(tx, generation); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyUpsert incrementally replaces the postings and outgoing links of a
// single note, without touching others.
func (db *DB) ApplyUpsert(note *models.Note, generation uint64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteNoteRows(tx, note.Key); err != nil {
		return err
	}
	if err := insertNote(tx, note); err != nil {
		return err
	}
	if err := setGeneration(tx, generation); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyDelete incrementally removes a note's postings and outgoing links.
func (db *DB) ApplyDelete(key string, generation uint64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteNoteRows(tx, key); err != nil {
		return err
	}
	if err := setGeneration(tx, generation); err != nil {
		return err
	}
	return tx.Commit()
}

// Generation returns the store generation this index was built against,
// or 0 when no index has been built yet.
func (db *DB) Generation() (uint64, error) {
	var gen uint64
	err := db.conn.QueryRow(`SELECT generation FROM meta WHERE id = 1`).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index: read generation: %w", err)
	}
	return gen, nil
}

func setGeneration(tx *sql.Tx, generation uint64) error {
	_, err := tx.Exec(`
		INSERT INTO meta (id, generation) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET generation = excluded.generation
	`, generation)
	if err != nil {
		return fmt.Errorf("index: set generation: %w", err)
	}
	return nil
}

// insertNote registers the note as a live key and writes its postings
// (tokens of title, body, and tags) and its outgoing backlink edges.
func insertNote(tx *sql.Tx, note *models.Note) error {
	if _, err := tx.Exec(`INSERT OR REPLACE INTO notes (key) VALUES (?)`, note.Key); err != nil {
		return fmt.Errorf("index: insert note key: %w", err)
	}

	fields := append([]string{note.Title, note.Body}, note.Tags...)
	freq := parser.TermFrequencies(fields...)

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	if len(terms) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO postings (term, key, freq) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare posting insert: %w", err)
		}
		defer stmt.Close()
		for _, term := range terms {
			if _, err := stmt.Exec(term, note.Key, freq[term]); err != nil {
				return fmt.Errorf("index: insert posting: %w", err)
			}
		}
	}

	links := parser.ExtractLinks(note.Body)
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range links {
			if _, err := stmt.Exec(note.Key, target); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}
	return nil
}

func deleteNoteRows(tx *sql.Tx, key string) error {
	if _, err := tx.Exec(`DELETE FROM notes WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: delete note key: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM postings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: delete postings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, key); err != nil {
		return fmt.Errorf("index: delete links: %w", err)
	}
	return nil
}
