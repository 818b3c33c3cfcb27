package notify

import (
	"container/list"
	"strconv"
	"sync"

	"github.com/tOgg1/opsdesk/internal/models"
)

// seenSet is a bounded LRU of counted message keys.
type seenSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	return &seenSet{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// add records key and reports whether it was new.
func (s *seenSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.MoveToFront(elem)
		return false
	}

	s.entries[key] = s.order.PushFront(key)
	for s.order.Len() > s.capacity {
		last := s.order.Back()
		if last == nil {
			break
		}
		s.order.Remove(last)
		delete(s.entries, last.Value.(string))
	}
	return true
}

func seenKey(channelID int64, id models.MessageID) string {
	return strconv.FormatInt(channelID, 10) + "/" + string(id)
}
