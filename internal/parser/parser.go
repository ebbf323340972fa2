// Package parser extracts searchable tokens and wikilink targets from note
// content. Indexing and querying must use the same tokenization policy or
// recall breaks, so both go through Tokenize.
package parser

import (
	"regexp"
	"strings"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tokenRe    = regexp.MustCompile(`[a-z0-9]+`)
)

// Tokenize lowercases s, splits on runs of non-alphanumeric characters, and
// drops empty tokens.
func Tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// TermFrequencies returns the token→count map over all given fields.
func TermFrequencies(fields ...string) map[string]int {
	freq := make(map[string]int)
	for _, f := range fields {
		for _, tok := range Tokenize(f) {
			freq[tok]++
		}
	}
	return freq
}

// ExtractLinks returns deduplicated [[wikilink]] targets from body.
// Targets are lowercased so backlink matching is case-insensitive, and
// aliases ([[Target|Alias]]) resolve to the target.
func ExtractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.ToLower(strings.TrimSpace(target))
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
