package models

import "strings"

// TaskStatus is the workflow state of a task in the external task store.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
)

// ParseTaskStatus normalizes a status string.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone:
		return s, nil
	default:
		return "", ErrInvalidTaskStatus
	}
}

// Task mirrors the fields of an external task the chat core reads.
type Task struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	Priority Priority   `json:"priority,omitempty"`
}
