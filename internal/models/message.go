// Package models defines the domain types shared by the sync engine, the API
// client and the reference backend.
package models

import (
	"strconv"
	"strings"
	"time"
)

// ProvisionalPrefix marks client-generated message ids that have not been
// confirmed by the server yet.
const ProvisionalPrefix = "tmp-"

// MessageID identifies a message. Server ids are decimal integers rendered as
// strings; provisional ids carry ProvisionalPrefix.
type MessageID string

// IsProvisional reports whether the id was generated client-side.
func (id MessageID) IsProvisional() bool {
	return strings.HasPrefix(string(id), ProvisionalPrefix)
}

// String implements fmt.Stringer.
func (id MessageID) String() string { return string(id) }

// ServerMessageID renders a server-assigned integer id.
func ServerMessageID(n int64) MessageID {
	return MessageID(formatInt(n))
}

// ParseServerMessageID parses a server id back into its integer form.
func ParseServerMessageID(id MessageID) (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// UserRef references a user. A nil *UserRef sender means system/bot.
type UserRef struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// AttachmentKind describes an attachment payload.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a reference to externally stored content.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
}

// MessageMetadata carries forwarding provenance.
type MessageMetadata struct {
	IsForwarded       bool   `json:"isForwarded,omitempty"`
	OriginChannelName string `json:"originChannelName,omitempty"`
}

// Message is a single chat entry.
//
// CreatedAt is the client clock while the message is provisional and the
// server timestamp once confirmed. ReplyToID and LinkedTaskID are weak
// references and may dangle.
type Message struct {
	ID           MessageID        `json:"id"`
	ClientID     MessageID        `json:"clientId,omitempty"`
	ChannelID    int64            `json:"channelId"`
	Sender       *UserRef         `json:"sender"`
	Content      string           `json:"content"`
	CreatedAt    time.Time        `json:"createdAt"`
	EditedAt     *time.Time       `json:"editedAt,omitempty"`
	Attachments  []Attachment     `json:"attachments,omitempty"`
	ReplyToID    MessageID        `json:"replyToId,omitempty"`
	LinkedTaskID int64            `json:"linkedTaskId,omitempty"`
	Priority     Priority         `json:"priority,omitempty"`
	Status       string           `json:"status,omitempty"`
	Metadata     *MessageMetadata `json:"metadata,omitempty"`
}

// SentBy reports whether the message was authored by userID.
func (m Message) SentBy(userID int64) bool {
	return m.Sender != nil && m.Sender.ID == userID
}

// IsForwarded reports whether the message carries forwarding metadata.
func (m Message) IsForwarded() bool {
	return m.Metadata != nil && m.Metadata.IsForwarded
}

// MessagePatch is a partial update. Nil fields are left untouched.
type MessagePatch struct {
	ID           MessageID `json:"-"`
	Content      *string   `json:"content,omitempty"`
	Priority     *Priority `json:"priority,omitempty"`
	Status       *string   `json:"status,omitempty"`
	LinkedTaskID *int64    `json:"linkedTaskId,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.Content == nil && p.Priority == nil && p.Status == nil && p.LinkedTaskID == nil
}

// Apply returns msg with the patch fields merged in. ID, ChannelID and
// CreatedAt are never changed.
func (p MessagePatch) Apply(msg Message) Message {
	out := CloneMessage(msg)
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.LinkedTaskID != nil {
		out.LinkedTaskID = *p.LinkedTaskID
	}
	return out
}

// MergeMessage merges the mutable fields of incoming into existing, keeping
// existing's identity and send time so ordering is unaffected.
func MergeMessage(existing, incoming Message) Message {
	out := CloneMessage(incoming)
	out.ID = existing.ID
	out.ChannelID = existing.ChannelID
	out.CreatedAt = existing.CreatedAt
	if out.Sender == nil && existing.Sender != nil {
		sender := *existing.Sender
		out.Sender = &sender
	}
	if out.ClientID == "" {
		out.ClientID = existing.ClientID
	}
	return out
}

// CloneMessage returns a deep copy of m.
func CloneMessage(m Message) Message {
	out := m
	if m.Sender != nil {
		sender := *m.Sender
		out.Sender = &sender
	}
	if m.EditedAt != nil {
		edited := *m.EditedAt
		out.EditedAt = &edited
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Metadata != nil {
		meta := *m.Metadata
		out.Metadata = &meta
	}
	return out
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
