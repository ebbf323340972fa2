package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen TaskStatus = "open"
	TaskDone TaskStatus = "done"
)

// Task is an ordered to-do item owned by exactly one note. IDs are unique
// across the whole store, assigned monotonically, and never reused.
type Task struct {
	ID          uint64     `json:"id"`
	NoteKey     string     `json:"note_key"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    bool       `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
}
