// Package api is the REST client for the channel, message and task
// endpoints.
package api

import (
	"context"

	"github.com/tOgg1/opsdesk/internal/models"
)

// Client is the REST Channel/Message API consumed by the sync engine.
type Client interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
	ListMessages(ctx context.Context, channelID int64, limit int) ([]models.Message, error)
	CreateMessage(ctx context.Context, channelID int64, req CreateMessageRequest) (models.Message, error)
	DeleteMessage(ctx context.Context, channelID int64, id models.MessageID) error
	PatchMessage(ctx context.Context, channelID int64, patch models.MessagePatch) (models.Message, error)
	GetOrCreateDM(ctx context.Context, userID int64) (models.Channel, error)
}

// CreateMessageRequest is the body of POST /channels/{id}/messages.
type CreateMessageRequest struct {
	ClientID     models.MessageID        `json:"clientId,omitempty"`
	Content      string                  `json:"content"`
	Attachments  []models.Attachment     `json:"attachments,omitempty"`
	ReplyToID    models.MessageID        `json:"replyToId,omitempty"`
	LinkedTaskID int64                   `json:"linkedTaskId,omitempty"`
	Priority     models.Priority         `json:"priority,omitempty"`
	Metadata     *models.MessageMetadata `json:"metadata,omitempty"`
}

// CreateChannelRequest is the body of POST /channels.
type CreateChannelRequest struct {
	Name      string             `json:"name"`
	Kind      models.ChannelKind `json:"kind"`
	MemberIDs []int64            `json:"memberIds,omitempty"`
}

// DirectChannelRequest is the body of POST /channels/dm.
type DirectChannelRequest struct {
	UserID int64 `json:"userId"`
}

// MemberRequest is the body of POST /channels/{id}/members.
type MemberRequest struct {
	UserID int64 `json:"userId"`
}

// TaskStatusRequest is the body of PATCH /tasks/{id}.
type TaskStatusRequest struct {
	Status models.TaskStatus `json:"status"`
}
