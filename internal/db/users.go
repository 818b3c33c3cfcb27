package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tOgg1/opsdesk/internal/models"
)

// UserRepository stores display names for message senders.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates or renames a user.
func (r *UserRepository) Upsert(ctx context.Context, user models.UserRef) error {
	if user.ID <= 0 {
		return models.ErrInvalidUser
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name
	`, user.ID, user.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", user.ID, err)
	}
	return nil
}

// Get returns a user by id.
func (r *UserRepository) Get(ctx context.Context, id int64) (models.UserRef, error) {
	var user models.UserRef
	err := r.db.QueryRowContext(ctx, `SELECT id, display_name FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserRef{}, ErrUserNotFound
	}
	if err != nil {
		return models.UserRef{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// List returns every known user ordered by id.
func (r *UserRepository) List(ctx context.Context) ([]models.UserRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, display_name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []models.UserRef
	for rows.Next() {
		var user models.UserRef
		if err := rows.Scan(&user.ID, &user.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}
