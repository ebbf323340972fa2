package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/varde/mnemo/internal/apperr"
	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/noteservice"
	"github.com/varde/mnemo/internal/taskservice"
)

// Handler holds API route handlers.
type Handler struct {
	notes *noteservice.Service
	tasks *taskservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(notes *noteservice.Service, tasks *taskservice.Service) *Handler {
	return &Handler{notes: notes, tasks: tasks}
}

func noteKey(r *http.Request) string {
	return chi.URLParam(r, "key")
}

func taskID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func writeDomainError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrInvalidKey):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid key"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with optional tag filter and sort order
//	@Tags			notes
//	@Produce		json
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			sort	query		string	false	"Sort field"	Enums(key, created, modified)
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy := models.SortBy(q.Get("sort"))
	switch sortBy {
	case models.SortByKey, models.SortByCreated, models.SortByModified:
	case "":
		sortBy = models.SortByKey
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("invalid sort field"))
		return
	}

	items, err := h.notes.List(r.Context(), sortBy, q.Get("tag"))
	if err != nil {
		writeDomainError(w, err, "list notes")
		return
	}
	if items == nil {
		items = []NoteListItem{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}

// GetNote handles GET /api/notes/{key}.
//
//	@Summary		Get a single note by key
//	@Tags			notes
//	@Produce		json
//	@Param			key	path		string	true	"Note key"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{key} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.Get(r.Context(), noteKey(r))
	if err != nil {
		writeDomainError(w, err, "get note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("key is required"))
		return
	}
	note, err := h.notes.Create(r.Context(), req.Key, req.Title, req.Body, req.Tags)
	if err != nil {
		writeDomainError(w, err, "create note")
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{key}.
//
//	@Summary		Replace a note body with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			key			path		string				true	"Note key"
//	@Param			If-Match	header		string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		UpdateNoteRequest	true	"Updated body"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{key} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	ifMatch := r.Header.Get("If-Match")
	// Strip surrounding quotes if present (standard ETag format).
	if len(ifMatch) >= 2 && ifMatch[0] == '"' && ifMatch[len(ifMatch)-1] == '"' {
		ifMatch = ifMatch[1 : len(ifMatch)-1]
	}

	note, err := h.notes.UpdateBody(r.Context(), noteKey(r), req.Body, ifMatch)
	if err != nil {
		writeDomainError(w, err, "update note")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateTitle handles PUT /api/notes/{key}/title.
func (h *Handler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	note, err := h.notes.UpdateTitle(r.Context(), noteKey(r), req.Title)
	if err != nil {
		writeDomainError(w, err, "update title")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{key}.
//
//	@Summary		Delete a note and its tasks
//	@Tags			notes
//	@Param			key	path	string	true	"Note key"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{key} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Delete(r.Context(), noteKey(r)); err != nil {
		writeDomainError(w, err, "delete note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTag handles PUT /api/notes/{key}/tags/{tag}.
func (h *Handler) AddTag(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.AddTag(r.Context(), noteKey(r), chi.URLParam(r, "tag"))
	if err != nil {
		writeDomainError(w, err, "add tag")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// RemoveTag handles DELETE /api/notes/{key}/tags/{tag}.
func (h *Handler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.RemoveTag(r.Context(), noteKey(r), chi.URLParam(r, "tag"))
	if err != nil {
		writeDomainError(w, err, "remove tag")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	true	"Search query"
//	@Success		200	{object}	SearchResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.notes.Search(r.Context(), q)
	if err != nil {
		writeDomainError(w, err, "search")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// Backlinks handles GET /api/notes/{key}/backlinks.
//
//	@Summary		List notes linking to a key
//	@Tags			graph
//	@Produce		json
//	@Param			key	path		string	true	"Target note key"
//	@Success		200	{object}	BacklinksResponse
//	@Security		BearerAuth
//	@Router			/notes/{key}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.notes.Backlinks(r.Context(), noteKey(r))
	if err != nil {
		writeDomainError(w, err, "backlinks")
		return
	}
	if links == nil {
		links = []string{}
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Backlinks: links})
}

// Rebuild handles POST /api/rebuild.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Rebuild(r.Context()); err != nil {
		writeDomainError(w, err, "rebuild")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/export. An optional tag query parameter
// restricts the export to notes carrying that tag.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.ExportAll(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		writeDomainError(w, err, "export")
		return
	}
	if notes == nil {
		notes = []models.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": notes,
	})
}

// Import handles POST /api/import.
//
//	@Summary		Import a batch of full records
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportRequest	true	"Records and conflict policy"
//	@Success		200		{object}	ImportResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 100<<20)
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	policy := models.ConflictPolicy(req.Policy)
	switch policy {
	case models.ConflictSkip, models.ConflictOverwrite, models.ConflictFail:
	case "":
		policy = models.ConflictSkip
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("invalid conflict policy"))
		return
	}
	batch := make([]*models.Note, len(req.Notes))
	for i := range req.Notes {
		batch[i] = &req.Notes[i]
	}
	written, err := h.notes.ImportMany(r.Context(), batch, policy)
	if err != nil {
		writeDomainError(w, err, "import")
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Written: written})
}

// ListTasks handles GET /api/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "list tasks")
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks})
}

// AddTask handles POST /api/notes/{key}/tasks.
//
//	@Summary		Attach a task to a note
//	@Tags			tasks
//	@Accept			json
//	@Produce		json
//	@Param			key		path		string			true	"Owning note key"
//	@Param			body	body		AddTaskRequest	true	"Task to add"
//	@Success		201		{object}	map[string]uint64
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{key}/tasks [post]
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("description is required"))
		return
	}
	id, err := h.tasks.Add(r.Context(), noteKey(r), req.Description)
	if err != nil {
		writeDomainError(w, err, "add task")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// CompleteTask handles POST /api/tasks/{id}/done.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid task id"))
		return
	}
	if err := h.tasks.Done(r.Context(), id); err != nil {
		writeDomainError(w, err, "complete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PrioritizeTask handles POST /api/tasks/{id}/prio.
func (h *Handler) PrioritizeTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid task id"))
		return
	}
	if err := h.tasks.Prio(r.Context(), id); err != nil {
		writeDomainError(w, err, "prioritize task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid task id"))
		return
	}
	if err := h.tasks.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetTasks handles DELETE /api/tasks.
func (h *Handler) ResetTasks(w http.ResponseWriter, r *http.Request) {
	removed, err := h.tasks.ResetAll(r.Context())
	if err != nil {
		writeDomainError(w, err, "reset tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
