package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/opsdesk/internal/models"
)

// TaskRepository is the reference backend's task store.
type TaskRepository struct {
	db  *DB
	now func() time.Time
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db, now: time.Now}
}

// Upsert creates or replaces a task.
func (r *TaskRepository) Upsert(ctx context.Context, task models.Task) error {
	if _, err := models.ParseTaskStatus(string(task.Status)); err != nil {
		return err
	}
	if err := models.ValidatePriority(task.Priority); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			priority = excluded.priority,
			updated_at = excluded.updated_at
	`, task.ID, task.Title, string(task.Status), string(task.Priority), r.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert task %d: %w", task.ID, err)
	}
	return nil
}

// Get returns a task by id.
func (r *TaskRepository) Get(ctx context.Context, id int64) (models.Task, error) {
	return r.get(ctx, r.db, id)
}

func (r *TaskRepository) get(ctx context.Context, q rowQueryer, id int64) (models.Task, error) {
	var (
		task             models.Task
		status, priority string
	)
	err := q.QueryRowContext(ctx, `SELECT id, title, status, priority FROM tasks WHERE id = ?`, id).
		Scan(&task.ID, &task.Title, &status, &priority)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	task.Status = models.TaskStatus(status)
	task.Priority = models.Priority(priority)
	return task, nil
}

// List returns every task ordered by id.
func (r *TaskRepository) List(ctx context.Context) ([]models.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, status, priority FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		var (
			task             models.Task
			status, priority string
		)
		if err := rows.Scan(&task.ID, &task.Title, &status, &priority); err != nil {
			return nil, err
		}
		task.Status = models.TaskStatus(status)
		task.Priority = models.Priority(priority)
		out = append(out, task)
	}
	return out, rows.Err()
}

// UpdateStatus sets a task's status and returns the updated task.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error) {
	status, err := models.ParseTaskStatus(string(status))
	if err != nil {
		return models.Task{}, err
	}

	var out models.Task
	err = r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), r.now().UTC().UnixNano(), id)
		if err != nil {
			return fmt.Errorf("update task %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTaskNotFound
		}
		out, err = r.get(ctx, tx, id)
		return err
	})
	return out, err
}
