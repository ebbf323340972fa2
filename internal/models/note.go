// Package models defines the domain types for Mnemo.
package models

import "time"

// Note is the unit of canonical storage: a keyed markdown document with
// metadata and an owned task list. The key is immutable once created.
type Note struct {
	Key        string    `json:"key"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body"`
	Tags       []string  `json:"tags,omitempty"`
	Tasks      []Task    `json:"tasks,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// HasTag reports whether the note carries the given tag.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Link represents a directed edge between two notes, extracted from
// [[wikilink]] syntax in the source note's body.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// SortBy selects the ordering of note listings.
type SortBy string

const (
	SortByKey      SortBy = "key"
	SortByCreated  SortBy = "created"
	SortByModified SortBy = "modified"
)

// ConflictPolicy controls how an import treats a key that already exists.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictFail      ConflictPolicy = "fail"
)
