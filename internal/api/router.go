package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/varde/mnemo/internal/noteservice"
	"github.com/varde/mnemo/internal/taskservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(notes *noteservice.Service, tasks *taskservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(notes, tasks)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{key}", h.GetNote)
	r.Put("/notes/{key}", h.UpdateNote)
	r.Put("/notes/{key}/title", h.UpdateTitle)
	r.Delete("/notes/{key}", h.DeleteNote)

	// Tags.
	r.Put("/notes/{key}/tags/{tag}", h.AddTag)
	r.Delete("/notes/{key}/tags/{tag}", h.RemoveTag)

	// Derived state.
	r.Get("/search", h.Search)
	r.Get("/notes/{key}/backlinks", h.Backlinks)
	r.Post("/rebuild", h.Rebuild)

	// Bulk transfer.
	r.Get("/export", h.Export)
	r.Post("/import", h.Import)

	// Tasks.
	r.Get("/tasks", h.ListTasks)
	r.Delete("/tasks", h.ResetTasks)
	r.Post("/notes/{key}/tasks", h.AddTask)
	r.Post("/tasks/{id}/done", h.CompleteTask)
	r.Post("/tasks/{id}/prio", h.PrioritizeTask)
	r.Delete("/tasks/{id}", h.DeleteTask)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
