// Package notify derives per-channel unread and mention counters from
// reconciled inbound messages.
package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

const defaultSeenCapacity = 4096

// Counts is a channel's counter pair. Mentions never exceeds Unread.
type Counts struct {
	Unread   int `json:"unread"`
	Mentions int `json:"mentions"`
}

// Aggregator keeps process-wide counters keyed by channel id.
type Aggregator struct {
	mu       sync.Mutex
	self     models.UserRef
	unread   map[int64]int
	mentions map[int64]int
	seen     *seenSet

	publisher events.Publisher
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPublisher sets the publisher notified on counter changes.
func WithPublisher(p events.Publisher) Option {
	return func(a *Aggregator) {
		if p != nil {
			a.publisher = p
		}
	}
}

// WithSeenCapacity bounds how many counted message ids are remembered for
// duplicate suppression.
func WithSeenCapacity(n int) Option {
	return func(a *Aggregator) {
		a.seen = newSeenSet(n)
	}
}

// NewAggregator creates an aggregator for the local user self.
func NewAggregator(self models.UserRef, opts ...Option) *Aggregator {
	a := &Aggregator{
		self:      self,
		unread:    make(map[int64]int),
		mentions:  make(map[int64]int),
		seen:      newSeenSet(defaultSeenCapacity),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observe counts an inbound message delivered while its channel is not
// active. Self-authored echoes and redeliveries of an already counted id are
// ignored. It reports whether any counter changed.
func (a *Aggregator) Observe(ctx context.Context, msg models.Message, active bool) bool {
	if active || msg.ChannelID <= 0 {
		return false
	}
	if msg.SentBy(a.self.ID) {
		return false
	}
	if msg.ID != "" && !a.seen.add(seenKey(msg.ChannelID, msg.ID)) {
		return false
	}
	if ContainsMention(msg.Content, a.self.DisplayName) {
		a.IncrementMention(ctx, msg.ChannelID)
	} else {
		a.Increment(ctx, msg.ChannelID)
	}
	return true
}

// Increment bumps the unread counter. Unknown channels start at zero.
func (a *Aggregator) Increment(ctx context.Context, channelID int64) {
	a.mu.Lock()
	a.unread[channelID]++
	a.mu.Unlock()
	a.notify(ctx, channelID)
}

// IncrementMention bumps both counters so Mentions stays a subset of Unread.
func (a *Aggregator) IncrementMention(ctx context.Context, channelID int64) {
	a.mu.Lock()
	a.unread[channelID]++
	a.mentions[channelID]++
	a.mu.Unlock()
	a.notify(ctx, channelID)
}

// Reset zeroes both counters for the channel.
func (a *Aggregator) Reset(ctx context.Context, channelID int64) {
	a.mu.Lock()
	changed := a.unread[channelID] != 0 || a.mentions[channelID] != 0
	delete(a.unread, channelID)
	delete(a.mentions, channelID)
	a.mu.Unlock()
	if changed {
		a.notify(ctx, channelID)
	}
}

// Forget drops a channel's counters, e.g. after access was revoked.
func (a *Aggregator) Forget(ctx context.Context, channelID int64) {
	a.Reset(ctx, channelID)
}

// Unread returns the unread counter for the channel.
func (a *Aggregator) Unread(channelID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread[channelID]
}

// Mentions returns the mention counter for the channel.
func (a *Aggregator) Mentions(channelID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mentions[channelID]
}

// Counts returns both counters for the channel.
func (a *Aggregator) Counts(channelID int64) Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Counts{Unread: a.unread[channelID], Mentions: a.mentions[channelID]}
}

// Snapshot returns every non-zero counter pair.
func (a *Aggregator) Snapshot() map[int64]Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int64]Counts, len(a.unread))
	for id, n := range a.unread {
		out[id] = Counts{Unread: n, Mentions: a.mentions[id]}
	}
	return out
}

// TotalUnread sums unread counters across channels.
func (a *Aggregator) TotalUnread() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.unread {
		total += n
	}
	return total
}

// ChannelsWithUnread lists channel ids with a non-zero unread counter.
func (a *Aggregator) ChannelsWithUnread() []int64 {
	a.mu.Lock()
	out := make([]int64, 0, len(a.unread))
	for id, n := range a.unread {
		if n > 0 {
			out = append(out, id)
		}
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Aggregator) notify(ctx context.Context, channelID int64) {
	a.publisher.Publish(ctx, &events.Notification{
		Kind:      events.KindCountersChanged,
		ChannelID: channelID,
	})
}

// MentionToken returns the token that mentions displayName.
func MentionToken(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return ""
	}
	return "@" + name
}

// ContainsMention reports whether content mentions displayName. Matching is
// case-insensitive and the token must not run into a following word
// character, so "@ann" does not match "@anna".
func ContainsMention(content, displayName string) bool {
	token := strings.ToLower(MentionToken(displayName))
	if token == "" {
		return false
	}
	haystack := strings.ToLower(content)
	for offset := 0; offset < len(haystack); {
		idx := strings.Index(haystack[offset:], token)
		if idx < 0 {
			return false
		}
		end := offset + idx + len(token)
		if end >= len(haystack) {
			return true
		}
		next, _ := utf8.DecodeRuneInString(haystack[end:])
		if !unicode.IsLetter(next) && !unicode.IsDigit(next) && next != '_' {
			return true
		}
		offset = end
	}
	return false
}
