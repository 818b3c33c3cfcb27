// Package tasks mirrors the external task store for cross-linking chat
// messages and applying status-change phrases.
package tasks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tOgg1/opsdesk/internal/models"
)

// Client is the task-store boundary.
type Client interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	PatchTaskStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error)
}

// Mirror caches the task list. It is a read replica; the task store stays
// authoritative.
type Mirror struct {
	mu     sync.RWMutex
	client Client
	tasks  map[int64]models.Task
}

// NewMirror creates an empty mirror. A nil client yields a mirror that only
// holds what is Put into it.
func NewMirror(client Client) *Mirror {
	return &Mirror{
		client: client,
		tasks:  make(map[int64]models.Task),
	}
}

// Refresh replaces the mirror with the task store's current list. On error
// the previous contents are kept.
func (m *Mirror) Refresh(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	list, err := m.client.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	next := make(map[int64]models.Task, len(list))
	for _, task := range list {
		next[task.ID] = task
	}

	m.mu.Lock()
	m.tasks = next
	m.mu.Unlock()
	return nil
}

// Put stores or overwrites one task.
func (m *Mirror) Put(task models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
}

// Lookup returns the mirrored task with id.
func (m *Mirror) Lookup(id int64) (models.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	return task, ok
}

// Tasks returns all mirrored tasks sorted by id.
func (m *Mirror) Tasks() []models.Task {
	m.mu.RLock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, task)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links resolves the tasks a message refers to: its linked task first, then
// inline #id references in order of appearance. Unknown ids are skipped.
func (m *Mirror) Links(msg models.Message) []models.Task {
	ids := References(msg.Content)
	if msg.LinkedTaskID > 0 {
		ids = append([]int64{msg.LinkedTaskID}, ids...)
	}

	seen := make(map[int64]struct{}, len(ids))
	var out []models.Task
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if task, ok := m.Lookup(id); ok {
			out = append(out, task)
		}
	}
	return out
}

// SetStatus patches a task's status in the store and mirrors the result.
func (m *Mirror) SetStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error) {
	if m.client == nil {
		return models.Task{}, fmt.Errorf("patch task %d: no task client", id)
	}
	task, err := m.client.PatchTaskStatus(ctx, id, status)
	if err != nil {
		return models.Task{}, fmt.Errorf("patch task %d: %w", id, err)
	}
	m.Put(task)
	return task, nil
}

var referencePattern = regexp.MustCompile(`(?:^|[^\w&])#(\d+)\b`)

// References extracts #<taskId> references from content, deduplicated, in
// order of first appearance.
func References(content string) []int64 {
	matches := referencePattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(matches))
	out := make([]int64, 0, len(matches))
	for _, match := range matches {
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type statusPhrase struct {
	pattern *regexp.Regexp
	status  models.TaskStatus
}

// Checked in order; multi-word phrases before the bare words they contain.
var statusPhrases = []statusPhrase{
	{regexp.MustCompile(`\bmark(?:ed)?\s+(?:as\s+)?done\b`), models.TaskStatusDone},
	{regexp.MustCompile(`\breopen(?:ed|ing)?\b`), models.TaskStatusTodo},
	{regexp.MustCompile(`\bin\s+progress\b`), models.TaskStatusInProgress},
	{regexp.MustCompile(`\bworking\s+on\s+it\b`), models.TaskStatusInProgress},
	{regexp.MustCompile(`\bblocked\b`), models.TaskStatusBlocked},
	{regexp.MustCompile(`\b(?:done|completed)\b`), models.TaskStatusDone},
}

// MatchStatusPhrase reports the task status a reply's content asks for.
func MatchStatusPhrase(content string) (models.TaskStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(content))
	if normalized == "" {
		return "", false
	}
	for _, phrase := range statusPhrases {
		if phrase.pattern.MatchString(normalized) {
			return phrase.status, true
		}
	}
	return "", false
}
