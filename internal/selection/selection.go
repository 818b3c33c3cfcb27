// Package selection tracks multi-select mode and the ordered set of selected
// message ids for the active channel.
package selection

import (
	"context"
	"sync"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

// Set is an insertion-ordered set of message ids scoped to one channel.
type Set struct {
	mu        sync.Mutex
	channelID int64
	active    bool
	order     []models.MessageID
	members   map[models.MessageID]struct{}

	publisher events.Publisher
}

// New creates an empty selection.
func New(publisher events.Publisher) *Set {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Set{
		members:   make(map[models.MessageID]struct{}),
		publisher: publisher,
	}
}

// Enter turns multi-select mode on for channelID and clears the set.
func (s *Set) Enter(ctx context.Context, channelID int64) {
	s.mu.Lock()
	s.active = true
	s.channelID = channelID
	s.clearLocked()
	s.mu.Unlock()
	s.notify(ctx, channelID)
}

// Exit turns multi-select mode off and clears the set.
func (s *Set) Exit(ctx context.Context) {
	s.mu.Lock()
	channelID := s.channelID
	changed := s.active || len(s.order) > 0
	s.active = false
	s.clearLocked()
	s.mu.Unlock()
	if changed {
		s.notify(ctx, channelID)
	}
}

// Active reports whether multi-select mode is on.
func (s *Set) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ChannelID returns the channel the selection is scoped to.
func (s *Set) ChannelID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Select adds id. Selecting a member again changes nothing.
func (s *Set) Select(ctx context.Context, id models.MessageID) bool {
	s.mu.Lock()
	if _, ok := s.members[id]; ok || id == "" {
		s.mu.Unlock()
		return false
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
	channelID := s.channelID
	s.mu.Unlock()
	s.notify(ctx, channelID)
	return true
}

// Deselect removes id if present.
func (s *Set) Deselect(ctx context.Context, id models.MessageID) bool {
	s.mu.Lock()
	if _, ok := s.members[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.members, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	channelID := s.channelID
	s.mu.Unlock()
	s.notify(ctx, channelID)
	return true
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *Set) Toggle(ctx context.Context, id models.MessageID) bool {
	if s.Contains(id) {
		s.Deselect(ctx, id)
		return false
	}
	return s.Select(ctx, id)
}

// Contains reports membership.
func (s *Set) Contains(id models.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	return ok
}

// IDs returns the selected ids in selection order.
func (s *Set) IDs() []models.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MessageID(nil), s.order...)
}

// Len returns the number of selected ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Set) clearLocked() {
	s.order = nil
	s.members = make(map[models.MessageID]struct{})
}

func (s *Set) notify(ctx context.Context, channelID int64) {
	s.publisher.Publish(ctx, &events.Notification{
		Kind:      events.KindSelectionChanged,
		ChannelID: channelID,
	})
}
