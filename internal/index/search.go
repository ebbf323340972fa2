package index

import (
	"fmt"
	"strings"

	"github.com/varde/mnemo/internal/parser"
)

// SearchResult is one search hit: a note key and its relevance score
// (summed term frequency over the distinct query terms).
type SearchResult struct {
	Key   string `json:"key"`
	Score int    `json:"score"`
}

// Search tokenizes query with the same policy used at index time and
// returns matching keys ordered by descending score, ties broken by key
// ascending.
func (db *DB) Search(query string) ([]SearchResult, error) {
	terms := uniqueTerms(parser.Tokenize(query))
	if len(terms) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(terms))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(terms))
	for i, t := range terms {
		args[i] = t
	}

	rows, err := db.conn.Query(fmt.Sprintf(`
		SELECT key, SUM(freq) AS score
		FROM postings
		WHERE term IN (%s)
		GROUP BY key
		ORDER BY score DESC, key ASC
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Key, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Backlinks returns the sorted set of note keys whose body references
// target via [[target]] syntax. Matching is case-insensitive. A target
// that is not a live note resolves to the empty set, so references to
// deleted keys never surface as backlinks.
func (db *DB) Backlinks(target string) ([]string, error) {
	lowered := strings.ToLower(target)
	rows, err := db.conn.Query(`
		SELECT DISTINCT source FROM links
		WHERE target = ?
		  AND EXISTS (SELECT 1 FROM notes WHERE key = ? COLLATE NOCASE)
		ORDER BY source
	`, lowered, lowered)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
