package chatsync

import (
	"context"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/metrics"
	"github.com/tOgg1/opsdesk/internal/models"
)

// ApplyEvent merges one push event. Scope always comes from the event's
// channel id; the active channel only decides between writing the message
// log and bumping counters.
func (e *Engine) ApplyEvent(ctx context.Context, ev models.PushEvent) {
	channelID := ev.ChannelID
	if channelID == 0 && ev.Message != nil {
		channelID = ev.Message.ChannelID
	}
	active := channelID != 0 && channelID == e.ActiveChannelID()
	e.metrics.PushEvent(string(ev.Kind), eventScope(channelID, active))

	logger := e.logger.With().Str("event", string(ev.Kind)).Int64("channel_id", channelID).Logger()

	switch ev.Kind {
	case models.EventMessage:
		if ev.Message == nil || channelID <= 0 {
			logger.Debug().Msg("message event without payload")
			return
		}
		e.applyMessage(ctx, channelID, *ev.Message, active)

	case models.EventMessageUpdated:
		if !active || ev.Message == nil {
			return
		}
		e.store.MergeMessage(ctx, channelID, *ev.Message)

	case models.EventMessageDeleted:
		id := ev.MessageID
		if id == "" && ev.Message != nil {
			id = ev.Message.ID
		}
		if !active || id == "" {
			return
		}
		e.store.RemoveMessage(ctx, channelID, id)
		e.selection.Deselect(ctx, id)

	case models.EventChannelCreated, models.EventChannelDeleted, models.EventAccessGranted:
		e.refreshQuietly(ctx)

	case models.EventAccessRevoked:
		if ev.UserID != 0 && ev.UserID != e.self.ID {
			e.refreshQuietly(ctx)
			return
		}
		e.revokeAccess(ctx, channelID, active)

	case models.EventPresence:
		if ev.UserID <= 0 {
			return
		}
		e.mu.Lock()
		e.presence[ev.UserID] = ev.Online
		e.mu.Unlock()

	case models.EventTyping:
		if ev.UserID <= 0 || ev.UserID == e.self.ID || channelID <= 0 {
			return
		}
		e.typers.Mark(channelID, ev.UserID)

	case models.EventReconnected:
		logger.Info().Msg("reconciling after reconnect")
		e.refreshQuietly(ctx)
		if e.ActiveChannelID() != 0 {
			if _, err := e.Refetch(ctx); err != nil {
				logger.Debug().Err(err).Msg("refetch skipped")
			}
		}

	default:
		logger.Debug().Msg("ignoring unknown push event")
	}
}

func (e *Engine) applyMessage(ctx context.Context, channelID int64, msg models.Message, active bool) {
	msg.ChannelID = channelID
	if msg.ID == "" {
		return
	}

	e.counters.Observe(ctx, msg, active)
	if !active {
		return
	}

	// A matching client nonce means this is the echo of one of our sends;
	// retire the provisional entry whichever path gets here first.
	if msg.ClientID.IsProvisional() {
		e.store.Reconcile(ctx, channelID, msg.ClientID, msg)
	} else {
		e.store.UpsertMessage(ctx, msg)
	}
	if msg.Sender != nil {
		e.typers.Clear(channelID, msg.Sender.ID)
	}
	e.scrollOnArrival(ctx, channelID, msg.ID)
}

// revokeAccess handles loss of access to channelID. For the active channel
// the view is redirected to the default channel; otherwise the channel is
// dropped from the list before the confirming refresh.
func (e *Engine) revokeAccess(ctx context.Context, channelID int64, active bool) {
	logger := logging.WithChannel(e.logger, channelID)

	if !active {
		if channelID > 0 {
			e.store.RemoveChannel(ctx, channelID)
			e.counters.Forget(ctx, channelID)
		}
		e.refreshQuietly(ctx)
		return
	}

	fallback := e.defaultChannelID
	logger.Info().Int64("fallback_channel_id", fallback).Msg("access to active channel revoked")
	e.selection.Exit(ctx)
	e.store.RemoveChannel(ctx, channelID)
	e.counters.Forget(ctx, channelID)
	e.publish(ctx, &events.Notification{Kind: events.KindForcedNavigation, ChannelID: fallback})

	if fallback > 0 && fallback != channelID {
		if _, err := e.Switch(ctx, fallback); err != nil {
			logger.Warn().Err(err).Msg("fallback switch failed")
		}
	} else {
		e.deactivate(ctx)
	}
	e.refreshQuietly(ctx)
}

func (e *Engine) deactivate(ctx context.Context) {
	e.mu.Lock()
	e.activation = activation{}
	e.mu.Unlock()
	e.publish(ctx, &events.Notification{Kind: events.KindActivation})
}

func eventScope(channelID int64, active bool) string {
	switch {
	case channelID == 0:
		return metrics.ScopeGlobal
	case active:
		return metrics.ScopeActive
	default:
		return metrics.ScopeInactive
	}
}
