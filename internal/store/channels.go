package store

import (
	"context"
	"sort"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

// SetChannels replaces the channel list with a fresh server snapshot.
// Message logs of channels that disappeared are dropped.
func (s *Store) SetChannels(ctx context.Context, channels []models.Channel) {
	next := make(map[int64]models.Channel, len(channels))
	for _, ch := range channels {
		if ch.ID <= 0 {
			continue
		}
		next[ch.ID] = models.CloneChannel(ch)
	}

	s.mu.Lock()
	s.channels = next
	for id := range s.messages {
		if _, ok := next[id]; !ok {
			delete(s.messages, id)
		}
	}
	s.mu.Unlock()

	s.notifyChannels(ctx, 0)
}

// UpsertChannel inserts or overwrites a single channel.
func (s *Store) UpsertChannel(ctx context.Context, ch models.Channel) {
	if ch.ID <= 0 {
		return
	}
	s.mu.Lock()
	s.channels[ch.ID] = models.CloneChannel(ch)
	s.mu.Unlock()

	s.notifyChannels(ctx, ch.ID)
}

// RemoveChannel drops a channel and its cached messages.
func (s *Store) RemoveChannel(ctx context.Context, id int64) bool {
	s.mu.Lock()
	_, ok := s.channels[id]
	delete(s.channels, id)
	delete(s.messages, id)
	s.mu.Unlock()

	if ok {
		s.notifyChannels(ctx, id)
	}
	return ok
}

// Channel returns a channel by id.
func (s *Store) Channel(id int64) (models.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return models.Channel{}, false
	}
	return models.CloneChannel(ch), true
}

// Channels returns all channels ordered by id.
func (s *Store) Channels() []models.Channel {
	s.mu.RLock()
	out := make([]models.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, models.CloneChannel(ch))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DirectChannelWith finds a cached direct channel between self and other.
func (s *Store) DirectChannelWith(self, other int64) (models.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.channels {
		if ch.Kind != models.ChannelKindDirect {
			continue
		}
		if ch.HasMember(other) && (self == other || ch.HasMember(self)) {
			return models.CloneChannel(ch), true
		}
	}
	return models.Channel{}, false
}

func (s *Store) notifyChannels(ctx context.Context, channelID int64) {
	s.publisher.Publish(ctx, &events.Notification{
		Kind:      events.KindChannelsChanged,
		ChannelID: channelID,
	})
}
