package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/opsdesk/internal/models"
)

const messageColumns = `
	m.id, m.channel_id, m.client_id, m.sender_id, u.display_name, m.content,
	m.created_at, m.edited_at, m.attachments_json, m.reply_to_id,
	m.linked_task_id, m.priority, m.status, m.metadata_json`

// MessageRepository persists channel messages.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts msg and returns it with its server id. msg.CreatedAt must
// be set by the caller.
func (r *MessageRepository) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.ChannelID <= 0 {
		return models.Message{}, models.ErrInvalidChannel
	}
	attachments, err := encodeJSON(msg.Attachments, len(msg.Attachments) > 0)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode attachments: %w", err)
	}
	metadata, err := encodeJSON(msg.Metadata, msg.Metadata != nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode metadata: %w", err)
	}
	var senderID any
	if msg.Sender != nil {
		senderID = msg.Sender.ID
	}

	var id int64
	err = r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				channel_id, client_id, sender_id, content, created_at, attachments_json,
				reply_to_id, linked_task_id, priority, status, metadata_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			msg.ChannelID, string(msg.ClientID), senderID, msg.Content,
			msg.CreatedAt.UTC().UnixNano(), attachments, string(msg.ReplyToID),
			msg.LinkedTaskID, string(msg.Priority), msg.Status, metadata,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return r.get(ctx, r.db, msg.ChannelID, id)
}

// Get returns one message of a channel.
func (r *MessageRepository) Get(ctx context.Context, channelID int64, id models.MessageID) (models.Message, error) {
	n, err := models.ParseServerMessageID(id)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	return r.get(ctx, r.db, channelID, n)
}

func (r *MessageRepository) get(ctx context.Context, q rowQueryer, channelID, id int64) (models.Message, error) {
	row := q.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM messages m LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.channel_id = ? AND m.id = ?`, channelID, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListRecent returns the limit most recent messages of a channel, oldest
// first.
func (r *MessageRepository) ListRecent(ctx context.Context, channelID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages m LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.channel_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of %d: %w", channelID, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Update applies patch and stamps editedAt when the content changed.
func (r *MessageRepository) Update(ctx context.Context, channelID int64, patch models.MessagePatch, editedAt time.Time) (models.Message, error) {
	n, err := models.ParseServerMessageID(patch.ID)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}

	var out models.Message
	err = r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		current, err := r.get(ctx, tx, channelID, n)
		if err != nil {
			return err
		}
		updated := patch.Apply(current)
		var edited any
		if current.EditedAt != nil {
			edited = current.EditedAt.UTC().UnixNano()
		}
		if patch.Content != nil && *patch.Content != current.Content {
			ts := editedAt.UTC()
			updated.EditedAt = &ts
			edited = ts.UnixNano()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET content = ?, priority = ?, status = ?, linked_task_id = ?, edited_at = ?
			WHERE channel_id = ? AND id = ?
		`, updated.Content, string(updated.Priority), updated.Status, updated.LinkedTaskID, edited, channelID, n); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		out = updated
		return nil
	})
	return out, err
}

// Delete removes one message.
func (r *MessageRepository) Delete(ctx context.Context, channelID int64, id models.MessageID) error {
	n, err := models.ParseServerMessageID(id)
	if err != nil {
		return ErrMessageNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = ? AND id = ?`, channelID, n)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (models.Message, error) {
	var (
		msg         models.Message
		id          int64
		clientID    string
		senderID    sql.NullInt64
		senderName  sql.NullString
		createdAt   int64
		editedAt    sql.NullInt64
		attachments sql.NullString
		replyTo     string
		priority    string
		metadata    sql.NullString
	)
	if err := row.Scan(
		&id, &msg.ChannelID, &clientID, &senderID, &senderName, &msg.Content,
		&createdAt, &editedAt, &attachments, &replyTo,
		&msg.LinkedTaskID, &priority, &msg.Status, &metadata,
	); err != nil {
		return models.Message{}, err
	}

	msg.ID = models.ServerMessageID(id)
	msg.ClientID = models.MessageID(clientID)
	msg.ReplyToID = models.MessageID(replyTo)
	msg.Priority = models.Priority(priority)
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	if senderID.Valid {
		msg.Sender = &models.UserRef{ID: senderID.Int64, DisplayName: senderName.String}
	}
	if editedAt.Valid {
		ts := time.Unix(0, editedAt.Int64).UTC()
		msg.EditedAt = &ts
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return models.Message{}, fmt.Errorf("decode attachments of %d: %w", id, err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		msg.Metadata = &models.MessageMetadata{}
		if err := json.Unmarshal([]byte(metadata.String), msg.Metadata); err != nil {
			return models.Message{}, fmt.Errorf("decode metadata of %d: %w", id, err)
		}
	}
	return msg, nil
}

func encodeJSON(v any, present bool) (*string, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}
