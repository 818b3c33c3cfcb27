package chatsync

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tOgg1/opsdesk/internal/models"
)

var (
	// ErrNoActiveChannel is returned by operations scoped to the active
	// channel when none is active.
	ErrNoActiveChannel = errors.New("no active channel")

	// ErrUnknownTarget is returned when a forward target is neither a known
	// channel nor a user.
	ErrUnknownTarget = errors.New("unknown forward target")

	// ErrNotConfirmed is returned when a server operation targets a
	// provisional id.
	ErrNotConfirmed = errors.New("message not confirmed yet")

	// ErrNotSelecting is returned when selection changes are attempted
	// outside multi-select mode.
	ErrNotSelecting = errors.New("multi-select mode is off")
)

// SendError reports a failed send. When Confirmed is empty the optimistic
// entry was rolled back; otherwise a follow-up attachment failed after the
// first part was confirmed and nothing was rolled back.
type SendError struct {
	ChannelID     int64
	ProvisionalID models.MessageID
	Confirmed     []models.Message
	Err           error
}

func (e *SendError) Error() string {
	if len(e.Confirmed) > 0 {
		return fmt.Sprintf("send to channel %d: %d part(s) confirmed, follow-up failed: %v", e.ChannelID, len(e.Confirmed), e.Err)
	}
	return fmt.Sprintf("send to channel %d: %v", e.ChannelID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// RolledBack reports whether the optimistic entry was removed.
func (e *SendError) RolledBack() bool { return len(e.Confirmed) == 0 }

// BulkError lists the ids whose delete failed. They are still in the store
// and the selection.
type BulkError struct {
	Failed map[models.MessageID]error
}

func (e *BulkError) Error() string {
	ids := e.IDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("bulk delete: %d failed (%s)", len(ids), strings.Join(parts, "; "))
}

// IDs returns the failed ids sorted.
func (e *BulkError) IDs() []models.MessageID {
	ids := make([]models.MessageID, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *BulkError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, id := range e.IDs() {
		out = append(out, e.Failed[id])
	}
	return out
}

// ForwardFailure is one message that could not be forwarded to one target.
type ForwardFailure struct {
	Target    ForwardTarget
	MessageID models.MessageID
	Err       error
}

// ForwardError collects forward failures.
type ForwardError struct {
	Failures []ForwardFailure
}

func (e *ForwardError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s -> %s: %v", f.MessageID, f.Target, f.Err))
	}
	return fmt.Sprintf("forward: %d failed (%s)", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ForwardError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}
