// Package store holds the client-side entity replica: channels and their
// message logs. Every mutation is an idempotent operation keyed by id, so
// REST completions and push events may arrive in any order.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

// Store is the single source of truth for what is rendered.
type Store struct {
	mu       sync.RWMutex
	channels map[int64]models.Channel
	messages map[int64]map[models.MessageID]models.Message

	publisher events.Publisher
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets the publisher notified after each mutation.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		channels:  make(map[int64]models.Channel),
		messages:  make(map[int64]map[models.MessageID]models.Message),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertMessage inserts or overwrites msg under msg.ChannelID.
func (s *Store) UpsertMessage(ctx context.Context, msg models.Message) {
	if msg.ChannelID <= 0 || msg.ID == "" {
		return
	}
	s.mu.Lock()
	s.bucketLocked(msg.ChannelID)[msg.ID] = models.CloneMessage(msg)
	s.mu.Unlock()

	s.notifyMessages(ctx, msg.ChannelID, msg.ID)
}

// Reconcile retires a provisional entry and upserts its confirmed
// replacement in one step. Retiring an absent id is a no-op, so applying the
// same confirmation twice, or after a push event already did, leaves exactly
// one entry.
func (s *Store) Reconcile(ctx context.Context, channelID int64, provisional models.MessageID, confirmed models.Message) {
	if channelID <= 0 || confirmed.ID == "" {
		return
	}
	confirmed = models.CloneMessage(confirmed)
	confirmed.ChannelID = channelID

	s.mu.Lock()
	bucket := s.bucketLocked(channelID)
	if provisional != "" && provisional != confirmed.ID {
		delete(bucket, provisional)
	}
	bucket[confirmed.ID] = confirmed
	s.mu.Unlock()

	ids := []models.MessageID{confirmed.ID}
	if provisional != "" && provisional != confirmed.ID {
		ids = append(ids, provisional)
	}
	s.notifyMessages(ctx, channelID, ids...)
}

// RetireMessage removes a provisional entry. It reports whether the entry
// was present.
func (s *Store) RetireMessage(ctx context.Context, channelID int64, id models.MessageID) bool {
	return s.RemoveMessage(ctx, channelID, id)
}

// RemoveMessage deletes id from the channel. Removing an absent id is not an
// error; the return value reports whether anything changed.
func (s *Store) RemoveMessage(ctx context.Context, channelID int64, id models.MessageID) bool {
	s.mu.Lock()
	bucket, ok := s.messages[channelID]
	if ok {
		_, ok = bucket[id]
		delete(bucket, id)
	}
	s.mu.Unlock()

	if ok {
		s.notifyMessages(ctx, channelID, id)
	}
	return ok
}

// MergeMessage merges incoming into the entry with the same id, keeping the
// original send time. It never inserts.
func (s *Store) MergeMessage(ctx context.Context, channelID int64, incoming models.Message) (models.Message, bool) {
	s.mu.Lock()
	bucket, ok := s.messages[channelID]
	var merged models.Message
	if ok {
		var existing models.Message
		existing, ok = bucket[incoming.ID]
		if ok {
			merged = models.MergeMessage(existing, incoming)
			bucket[incoming.ID] = merged
		}
	}
	s.mu.Unlock()

	if !ok {
		return models.Message{}, false
	}
	s.notifyMessages(ctx, channelID, incoming.ID)
	return models.CloneMessage(merged), true
}

// PatchMessage applies patch to the entry it names. It never inserts.
func (s *Store) PatchMessage(ctx context.Context, channelID int64, patch models.MessagePatch) (models.Message, bool) {
	s.mu.Lock()
	bucket, ok := s.messages[channelID]
	var patched models.Message
	if ok {
		var existing models.Message
		existing, ok = bucket[patch.ID]
		if ok {
			patched = patch.Apply(existing)
			bucket[patch.ID] = patched
		}
	}
	s.mu.Unlock()

	if !ok {
		return models.Message{}, false
	}
	s.notifyMessages(ctx, channelID, patch.ID)
	return models.CloneMessage(patched), true
}

// ReplaceMessages discards the channel's log and installs msgs in its place.
func (s *Store) ReplaceMessages(ctx context.Context, channelID int64, msgs []models.Message) {
	s.ReplaceMessagesIf(ctx, channelID, msgs, nil)
}

// ReplaceMessagesIf is ReplaceMessages gated on keep, which is evaluated
// while the store is locked and must not call back into the store. It
// reports whether the log was replaced.
func (s *Store) ReplaceMessagesIf(ctx context.Context, channelID int64, msgs []models.Message, keep func() bool) bool {
	if channelID <= 0 {
		return false
	}
	bucket := make(map[models.MessageID]models.Message, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		msg = models.CloneMessage(msg)
		msg.ChannelID = channelID
		bucket[msg.ID] = msg
	}

	s.mu.Lock()
	if keep != nil && !keep() {
		s.mu.Unlock()
		return false
	}
	s.messages[channelID] = bucket
	s.mu.Unlock()

	s.notifyMessages(ctx, channelID)
	return true
}

// Messages materializes the channel's log in createdAt-ascending order.
// Sorting happens here, at read time, because inbound paths have no mutual
// ordering guarantee.
func (s *Store) Messages(channelID int64) []models.Message {
	s.mu.RLock()
	bucket := s.messages[channelID]
	out := make([]models.Message, 0, len(bucket))
	for _, msg := range bucket {
		out = append(out, models.CloneMessage(msg))
	}
	s.mu.RUnlock()

	SortMessages(out)
	return out
}

// Message returns a single entry.
func (s *Store) Message(channelID int64, id models.MessageID) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[channelID][id]
	if !ok {
		return models.Message{}, false
	}
	return models.CloneMessage(msg), true
}

// HasMessages reports whether anything is cached for the channel.
func (s *Store) HasMessages(channelID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[channelID]) > 0
}

// MessageCount returns the number of cached entries for the channel.
func (s *Store) MessageCount(channelID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[channelID])
}

// SortMessages orders msgs by CreatedAt, breaking ties by id.
func SortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return lessID(msgs[i].ID, msgs[j].ID)
	})
}

// lessID orders server ids numerically; provisional ids fall back to a
// string comparison.
func lessID(a, b models.MessageID) bool {
	na, errA := models.ParseServerMessageID(a)
	nb, errB := models.ParseServerMessageID(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func (s *Store) bucketLocked(channelID int64) map[models.MessageID]models.Message {
	bucket, ok := s.messages[channelID]
	if !ok {
		bucket = make(map[models.MessageID]models.Message)
		s.messages[channelID] = bucket
	}
	return bucket
}

func (s *Store) notifyMessages(ctx context.Context, channelID int64, ids ...models.MessageID) {
	s.publisher.Publish(ctx, &events.Notification{
		Kind:       events.KindMessagesChanged,
		ChannelID:  channelID,
		MessageIDs: ids,
	})
}
