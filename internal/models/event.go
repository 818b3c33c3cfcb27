package models

import "time"

// EventKind categorizes push events delivered over the persistent transport.
type EventKind string

const (
	// Message events
	EventMessage        EventKind = "message"
	EventMessageUpdated EventKind = "message_updated"
	EventMessageDeleted EventKind = "message_deleted"

	// Channel lifecycle events (signals to refetch, not deltas)
	EventChannelCreated EventKind = "channel_created"
	EventChannelDeleted EventKind = "channel_deleted"

	// Membership events
	EventAccessGranted EventKind = "group.access_granted"
	EventAccessRevoked EventKind = "group.access_revoked"

	// Ephemeral events
	EventPresence EventKind = "presence"
	EventTyping   EventKind = "typing"

	// EventReconnected is synthesized by the transport after a reconnect;
	// events may have been missed while disconnected.
	EventReconnected EventKind = "reconnected"
)

// PushEvent is one asynchronously delivered server notification. Every event
// carries an explicit ChannelID where a channel is involved.
type PushEvent struct {
	Kind      EventKind `json:"type"`
	ChannelID int64     `json:"channelId,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	MessageID MessageID `json:"messageId,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
	Online    bool      `json:"online,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// IsMessageKind reports whether the event touches a channel's message log.
func (e PushEvent) IsMessageKind() bool {
	switch e.Kind {
	case EventMessage, EventMessageUpdated, EventMessageDeleted:
		return true
	default:
		return false
	}
}

// ClonePushEvent returns a deep copy of e.
func ClonePushEvent(e PushEvent) PushEvent {
	out := e
	if e.Message != nil {
		msg := CloneMessage(*e.Message)
		out.Message = &msg
	}
	return out
}
