// Package typing implements the advisory typing indicator: an outbound
// debounce and a board of remote typers with time-based expiry.
package typing

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultDebounce = 3 * time.Second
	DefaultExpiry   = 5 * time.Second
)

type key struct {
	channelID int64
	userID    int64
}

// Debouncer suppresses a typing emission if one was already allowed for the
// same (channel, user) pair within the debounce window.
type Debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	limiters map[key]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// NewDebouncer creates a debouncer; a non-positive window uses DefaultDebounce.
func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		window:   window,
		limiters: make(map[key]*limiterEntry),
		now:      now,
	}
}

// Allow reports whether a typing event may be emitted now.
func (d *Debouncer) Allow(channelID, userID int64) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{channelID: channelID, userID: userID}
	entry, ok := d.limiters[k]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(d.window), 1)}
		d.limiters[k] = entry
	}
	if !entry.limiter.AllowN(now, 1) {
		return false
	}
	entry.last = now
	d.pruneLocked(now)
	return true
}

// pruneLocked drops limiters idle for longer than the window; they would
// allow the next emission anyway.
func (d *Debouncer) pruneLocked(now time.Time) {
	if len(d.limiters) < 64 {
		return
	}
	for k, entry := range d.limiters {
		if now.Sub(entry.last) > 2*d.window {
			delete(d.limiters, k)
		}
	}
}

// Board records remote typers. Entries expire on their own; there is no
// "stopped typing" event.
type Board struct {
	mu     sync.Mutex
	expiry time.Duration
	until  map[key]time.Time
	now    func() time.Time
}

// NewBoard creates a board; a non-positive expiry uses DefaultExpiry.
func NewBoard(expiry time.Duration, now func() time.Time) *Board {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &Board{
		expiry: expiry,
		until:  make(map[key]time.Time),
		now:    now,
	}
}

// Mark records that userID is typing in channelID as of now.
func (b *Board) Mark(channelID, userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until[key{channelID: channelID, userID: userID}] = b.now().Add(b.expiry)
}

// Clear removes a typer, e.g. once their message arrives.
func (b *Board) Clear(channelID, userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.until, key{channelID: channelID, userID: userID})
}

// Active lists users currently typing in channelID, sorted by id.
func (b *Board) Active(channelID int64) []int64 {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []int64
	for k, until := range b.until {
		if !now.Before(until) {
			delete(b.until, k)
			continue
		}
		if k.channelID == channelID {
			out = append(out, k.userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
