// Package events provides in-process change notifications for the sync engine.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/opsdesk/internal/models"
)

// Kind categorizes a notification.
type Kind string

const (
	KindMessagesChanged  Kind = "messages.changed"
	KindChannelsChanged  Kind = "channels.changed"
	KindCountersChanged  Kind = "counters.changed"
	KindSelectionChanged Kind = "selection.changed"
	KindActivation       Kind = "activation.changed"
	KindScroll           Kind = "scroll"
	KindForcedNavigation Kind = "navigation.forced"
	KindSendFailed       Kind = "send.failed"
)

// ScrollMode tells a renderer how to move to the newest message.
type ScrollMode string

const (
	ScrollInstant ScrollMode = "instant"
	ScrollSmooth  ScrollMode = "smooth"
)

// Notification describes one observable change.
type Notification struct {
	Kind       Kind
	ChannelID  int64
	MessageIDs []models.MessageID
	Scroll     ScrollMode
	Err        error
	Timestamp  time.Time
}

// Handler is a callback invoked when a notification matches a subscription.
type Handler func(n *Notification)

// Filter defines criteria for matching notifications.
type Filter struct {
	// Kinds filters by notification kind (nil = all kinds).
	Kinds []Kind

	// ChannelID filters to a specific channel (0 = all).
	ChannelID int64
}

// Matches returns true if the notification matches the filter criteria.
func (f *Filter) Matches(n *Notification) bool {
	if n == nil {
		return false
	}

	if len(f.Kinds) > 0 {
		matched := false
		for _, k := range f.Kinds {
			if n.Kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.ChannelID != 0 && n.ChannelID != f.ChannelID {
		return false
	}

	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines the interface for notification publishing and subscription.
type Publisher interface {
	// Publish sends a notification to all matching subscribers.
	Publish(ctx context.Context, n *Notification)

	// Subscribe registers a handler to receive notifications matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher using in-process pub/sub.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	now           func() time.Time
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithClock overrides the timestamp source for published notifications.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *InMemoryPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewInMemoryPublisher creates a new in-memory publisher.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends a notification to all matching subscribers.
func (p *InMemoryPublisher) Publish(ctx context.Context, n *Notification) {
	if n == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = p.now()
	}

	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(n) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	// Handlers run outside the lock so they may publish or subscribe.
	for _, handler := range handlers {
		handler(n)
	}
}

// Subscribe registers a handler to receive notifications matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}

	p.subscriptions[id] = &subscription{
		id:      id,
		filter:  filter,
		handler: handler,
	}

	return nil
}

// SubscribeFunc registers handler under a generated id and returns a cancel
// function that removes it.
func (p *InMemoryPublisher) SubscribeFunc(filter Filter, handler Handler) (func(), error) {
	id := uuid.NewString()
	if err := p.Subscribe(id, filter, handler); err != nil {
		return nil, err
	}
	return func() { _ = p.Unsubscribe(id) }, nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}

	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// UpdateSubscription updates the filter for an existing subscription.
func (p *InMemoryPublisher) UpdateSubscription(id string, filter Filter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, exists := p.subscriptions[id]
	if !exists {
		return ErrSubscriptionNotFound
	}

	sub.filter = filter
	return nil
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

// Nop is a Publisher that drops every notification.
type Nop struct{}

func (Nop) Publish(context.Context, *Notification) {}

func (Nop) Subscribe(string, Filter, Handler) error { return nil }

func (Nop) Unsubscribe(string) error { return nil }

func (Nop) SubscriberCount() int { return 0 }

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
