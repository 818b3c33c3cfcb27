package chatsync

import (
	"context"
)

// NotifyTyping emits a typing signal for the local user unless one was
// emitted for the same channel within the debounce window. It reports
// whether a signal was sent. Delivery is best effort.
func (e *Engine) NotifyTyping(ctx context.Context, channelID int64) bool {
	if channelID <= 0 || !e.debouncer.Allow(channelID, e.self.ID) {
		return false
	}
	if e.transport == nil {
		return false
	}
	if err := e.transport.SendTyping(ctx, channelID); err != nil {
		e.logger.Debug().Err(err).Int64("channel_id", channelID).Msg("typing signal dropped")
		return false
	}
	return true
}

// Typing lists the remote users currently typing in channelID.
func (e *Engine) Typing(channelID int64) []int64 {
	return e.typers.Active(channelID)
}

// Online reports the last presence seen for userID.
func (e *Engine) Online(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence[userID]
}
