package models

import "strings"

// Priority is an optional message or task priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes a priority string. The empty string is valid and
// means "unset".
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if err := ValidatePriority(p); err != nil {
		return "", err
	}
	return p, nil
}

// ValidatePriority rejects unknown priorities.
func ValidatePriority(p Priority) error {
	switch p {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return nil
	default:
		return ErrInvalidPriority
	}
}

// Rank orders priorities for display; unset ranks with normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}
