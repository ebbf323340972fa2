package api

import (
	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Key   string   `json:"key" example:"ideas" validate:"required"`
	Title string   `json:"title" example:"Ideas"`
	Body  string   `json:"body" example:"# Ideas\nSee [[inbox]]." validate:"required"`
	Tags  []string `json:"tags" example:"draft,work"`
}

// UpdateNoteRequest is the request body for replacing a note body.
type UpdateNoteRequest struct {
	Body string `json:"body" example:"# Updated\nContent" validate:"required"`
}

// UpdateTitleRequest is the request body for renaming a note.
type UpdateTitleRequest struct {
	Title string `json:"title" example:"New title" validate:"required"`
}

// AddTaskRequest is the request body for attaching a task to a note.
type AddTaskRequest struct {
	Description string `json:"description" example:"write the intro" validate:"required"`
}

// ImportRequest carries a batch of full records plus the conflict policy.
type ImportRequest struct {
	Policy string        `json:"policy" example:"skip" enums:"skip,overwrite,fail"`
	Notes  []models.Note `json:"notes" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Key   string `json:"key" example:"ideas" validate:"required"`
	Score int    `json:"score" example:"3" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse wraps the keys of notes referencing a target.
type BacklinksResponse struct {
	Backlinks []string `json:"backlinks" validate:"required"`
}

// TaskListResponse wraps task listings.
type TaskListResponse struct {
	Tasks []models.Task `json:"tasks" validate:"required"`
}

// ImportResponse reports how many records an import wrote.
type ImportResponse struct {
	Written int `json:"written" example:"7" validate:"required"`
}
