package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/opsdesk/internal/models"
)

// ChannelRepository persists channels and their member sets.
type ChannelRepository struct {
	db  *DB
	now func() time.Time
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *DB) *ChannelRepository {
	return &ChannelRepository{db: db, now: time.Now}
}

// Create inserts ch with its members. A zero ch.ID lets SQLite assign one.
func (r *ChannelRepository) Create(ctx context.Context, ch models.Channel) (models.Channel, error) {
	if !ch.Kind.Valid() {
		return models.Channel{}, fmt.Errorf("invalid channel kind %q", ch.Kind)
	}
	members := models.NormalizeMembers(ch.MemberIDs)

	err := r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		var id any
		if ch.ID > 0 {
			id = ch.ID
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO channels (id, name, kind, archived, created_at) VALUES (?, ?, ?, ?, ?)
		`, id, ch.Name, string(ch.Kind), ch.Archived, r.now().UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
		if ch.ID <= 0 {
			if ch.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		for _, userID := range members {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)
			`, ch.ID, userID); err != nil {
				return fmt.Errorf("insert member %d: %w", userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Channel{}, err
	}
	ch.MemberIDs = members
	return ch, nil
}

// Get returns a channel with its members.
func (r *ChannelRepository) Get(ctx context.Context, id int64) (models.Channel, error) {
	var (
		ch   models.Channel
		kind string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, kind, archived FROM channels WHERE id = ?`, id).
		Scan(&ch.ID, &ch.Name, &kind, &ch.Archived)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("get channel %d: %w", id, err)
	}
	ch.Kind = models.ChannelKind(kind)

	members, err := r.Members(ctx, id)
	if err != nil {
		return models.Channel{}, err
	}
	ch.MemberIDs = members
	return ch, nil
}

// Members returns the sorted member ids of a channel.
func (r *ChannelRepository) Members(ctx context.Context, channelID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM channel_members WHERE channel_id = ? ORDER BY user_id
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list members of %d: %w", channelID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListForUser returns the channels userID is a member of, ordered by id.
func (r *ChannelRepository) ListForUser(ctx context.Context, userID int64) ([]models.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.kind, c.archived
		FROM channels c
		JOIN channel_members m ON m.channel_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list channels for %d: %w", userID, err)
	}

	var (
		channels []models.Channel
		index    = make(map[int64]int)
	)
	for rows.Next() {
		var (
			ch   models.Channel
			kind string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &kind, &ch.Archived); err != nil {
			rows.Close()
			return nil, err
		}
		ch.Kind = models.ChannelKind(kind)
		index[ch.ID] = len(channels)
		channels = append(channels, ch)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	memberRows, err := r.db.QueryContext(ctx, `
		SELECT channel_id, user_id FROM channel_members
		WHERE channel_id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)
		ORDER BY channel_id, user_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list members for %d: %w", userID, err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var channelID, memberID int64
		if err := memberRows.Scan(&channelID, &memberID); err != nil {
			return nil, err
		}
		if i, ok := index[channelID]; ok {
			channels[i].MemberIDs = append(channels[i].MemberIDs, memberID)
		}
	}
	return channels, memberRows.Err()
}

// Delete removes a channel; members and messages cascade.
func (r *ChannelRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// AddMember adds userID to a channel. It reports false when the user was
// already a member.
func (r *ChannelRepository) AddMember(ctx context.Context, channelID, userID int64) (bool, error) {
	if userID <= 0 {
		return false, models.ErrInvalidUser
	}
	if _, err := r.Get(ctx, channelID); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO channel_members (channel_id, user_id) VALUES (?, ?)
	`, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("add member %d to %d: %w", userID, channelID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveMember removes userID from a channel. It reports false when the
// user was not a member.
func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?
	`, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member %d from %d: %w", userID, channelID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsMember reports whether userID belongs to channelID.
func (r *ChannelRepository) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM channel_members WHERE channel_id = ? AND user_id = ?
	`, channelID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FindDirect returns the direct channel between a and b.
func (r *ChannelRepository) FindDirect(ctx context.Context, a, b int64) (models.Channel, error) {
	members := models.NormalizeMembers([]int64{a, b})
	var id int64
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id FROM channels c
		WHERE c.kind = 'direct'
		  AND (SELECT COUNT(*) FROM channel_members m WHERE m.channel_id = c.id) = ?
		  AND (SELECT COUNT(*) FROM channel_members m WHERE m.channel_id = c.id AND m.user_id IN (?, ?)) = ?
		ORDER BY c.id LIMIT 1
	`, len(members), a, b, len(members)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("find direct channel: %w", err)
	}
	return r.Get(ctx, id)
}
