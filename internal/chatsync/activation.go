package chatsync

import (
	"context"
	"fmt"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/metrics"
	"github.com/tOgg1/opsdesk/internal/models"
)

// State is the phase of the current channel-switch transaction.
type State int

const (
	StateInactive State = iota
	StateLoading
	StateActive
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	default:
		return "inactive"
	}
}

// ActivationStatus is a snapshot of the activation controller.
type ActivationStatus struct {
	ChannelID int64
	State     State
}

// activation is guarded by Engine.mu. scrolled is set once the instant
// scroll for the current switch was emitted.
type activation struct {
	channelID  int64
	state      State
	nearBottom bool
	scrolled   bool
}

// Activation tracks the background history fetch of one Switch call.
type Activation struct {
	ChannelID int64

	done  chan struct{}
	err   error
	stale bool
}

func newActivation(channelID int64) *Activation {
	return &Activation{ChannelID: channelID, done: make(chan struct{})}
}

// Done is closed once the fetch settled.
func (a *Activation) Done() <-chan struct{} { return a.done }

// Wait blocks until the fetch settled and returns its error. A fetch
// discarded as stale returns nil.
func (a *Activation) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return a.err
	}
}

// Stale reports whether the response was discarded because another channel
// became active first. Valid after Done.
func (a *Activation) Stale() bool { return a.stale }

func (a *Activation) finish(err error, stale bool) {
	a.err = err
	a.stale = stale
	close(a.done)
}

// Activation returns the current activation state.
func (e *Engine) Activation() ActivationStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ActivationStatus{ChannelID: e.activation.channelID, State: e.activation.state}
}

// ActiveChannelID returns the active channel, or 0.
func (e *Engine) ActiveChannelID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activation.channelID
}

// SetNearBottom records whether the rendered list is scrolled near its end.
// New arrivals only request a smooth scroll while this holds.
func (e *Engine) SetNearBottom(near bool) {
	e.mu.Lock()
	e.activation.nearBottom = near
	e.mu.Unlock()
}

// Switch makes channelID the active channel. Counters for the channel are
// zero and the selection is cleared by the time Switch returns; the history
// fetch continues in the background and fully replaces the channel's log
// unless another channel became active in the meantime.
func (e *Engine) Switch(ctx context.Context, channelID int64) (*Activation, error) {
	if channelID <= 0 {
		return nil, models.ErrInvalidChannel
	}

	cached := e.store.HasMessages(channelID)

	e.mu.Lock()
	e.activation.channelID = channelID
	e.activation.scrolled = false
	e.activation.nearBottom = true
	if cached {
		e.activation.state = StateActive
	} else {
		e.activation.state = StateLoading
	}
	state := e.activation.state
	e.mu.Unlock()

	// The channel is already active here, so nothing can re-increment the
	// counters between the reset and the return.
	e.counters.Reset(ctx, channelID)
	e.selection.Exit(ctx)
	e.prefs.SetLastChannelID(channelID)

	e.publish(ctx, &events.Notification{Kind: events.KindActivation, ChannelID: channelID})
	if cached {
		e.scrollAfterPopulate(ctx, channelID)
	}

	logger := logging.WithChannel(e.logger, channelID)
	logger.Debug().Str("state", state.String()).Msg("channel activated")

	act := newActivation(channelID)
	go e.fetchHistory(context.WithoutCancel(ctx), act)
	return act, nil
}

// Refetch reloads the active channel's history with full replace.
func (e *Engine) Refetch(ctx context.Context) (*Activation, error) {
	channelID := e.ActiveChannelID()
	if channelID == 0 {
		return nil, ErrNoActiveChannel
	}
	act := newActivation(channelID)
	go e.fetchHistory(context.WithoutCancel(ctx), act)
	return act, nil
}

func (e *Engine) fetchHistory(ctx context.Context, act *Activation) {
	channelID := act.ChannelID
	logger := logging.WithChannel(e.logger, channelID)

	msgs, err := e.api.ListMessages(ctx, channelID, e.historyLimit)
	if e.ActiveChannelID() != channelID {
		e.metrics.Fetch(metrics.ResultStale)
		logger.Debug().Msg("discarding stale history response")
		act.finish(nil, true)
		return
	}
	if err != nil {
		e.metrics.Fetch(metrics.ResultError)
		logger.Warn().Err(err).Msg("history fetch failed; keeping cached messages")
		act.finish(fmt.Errorf("fetch history for channel %d: %w", channelID, err), false)
		return
	}

	// The active-channel check runs under the store lock, so a switch cannot
	// slip in between it and the replace.
	replaced := e.store.ReplaceMessagesIf(ctx, channelID, msgs, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.activation.channelID != channelID {
			return false
		}
		e.activation.state = StateActive
		return true
	})
	if !replaced {
		e.metrics.Fetch(metrics.ResultStale)
		logger.Debug().Msg("discarding stale history response")
		act.finish(nil, true)
		return
	}
	e.metrics.Fetch(metrics.ResultOK)

	if e.ActiveChannelID() == channelID {
		e.publish(ctx, &events.Notification{Kind: events.KindActivation, ChannelID: channelID})
		e.scrollAfterPopulate(ctx, channelID)
	}
	act.finish(nil, false)
}

// scrollAfterPopulate requests an instant scroll the first time the active
// channel is populated after a switch, and a smooth one afterwards if the
// view is near the bottom.
func (e *Engine) scrollAfterPopulate(ctx context.Context, channelID int64) {
	e.mu.Lock()
	if e.activation.channelID != channelID {
		e.mu.Unlock()
		return
	}
	mode := events.ScrollInstant
	if e.activation.scrolled {
		if !e.activation.nearBottom {
			e.mu.Unlock()
			return
		}
		mode = events.ScrollSmooth
	}
	e.activation.scrolled = true
	e.mu.Unlock()

	e.publish(ctx, &events.Notification{Kind: events.KindScroll, ChannelID: channelID, Scroll: mode})
}

// scrollOnArrival requests a smooth scroll for a new message in the active
// channel when the view is near the bottom.
func (e *Engine) scrollOnArrival(ctx context.Context, channelID int64, id models.MessageID) {
	e.mu.Lock()
	ok := e.activation.channelID == channelID &&
		e.activation.state == StateActive &&
		e.activation.scrolled &&
		e.activation.nearBottom
	e.mu.Unlock()
	if !ok {
		return
	}
	e.publish(ctx, &events.Notification{
		Kind:       events.KindScroll,
		ChannelID:  channelID,
		MessageIDs: []models.MessageID{id},
		Scroll:     events.ScrollSmooth,
	})
}
