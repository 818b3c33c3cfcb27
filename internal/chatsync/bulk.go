package chatsync

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/models"
)

// EnterMultiSelect turns multi-select mode on for the active channel.
func (e *Engine) EnterMultiSelect(ctx context.Context) error {
	channelID := e.ActiveChannelID()
	if channelID == 0 {
		return ErrNoActiveChannel
	}
	e.selection.Enter(ctx, channelID)
	return nil
}

// ExitMultiSelect turns multi-select mode off and clears the selection.
func (e *Engine) ExitMultiSelect(ctx context.Context) {
	e.selection.Exit(ctx)
}

// MultiSelecting reports whether multi-select mode is on.
func (e *Engine) MultiSelecting() bool {
	return e.selection.Active()
}

// ToggleSelect flips membership of a message of the active channel and
// reports whether it is now selected.
func (e *Engine) ToggleSelect(ctx context.Context, id models.MessageID) (bool, error) {
	if !e.selection.Active() {
		return false, ErrNotSelecting
	}
	if _, ok := e.store.Message(e.selection.ChannelID(), id); !ok {
		return false, fmt.Errorf("select %s: message not in channel %d", id, e.selection.ChannelID())
	}
	return e.selection.Toggle(ctx, id), nil
}

// Selected returns the selected ids in selection order.
func (e *Engine) Selected() []models.MessageID {
	return e.selection.IDs()
}

// BulkResult reports a bulk delete.
type BulkResult struct {
	Deleted []models.MessageID
	Failed  []models.MessageID
}

// BulkDelete deletes ids (the current selection if ids is empty) with one
// concurrent request per id. Each success removes its id from the store and
// the selection as it completes; failures stay in both. Multi-select mode is
// left only when every delete succeeded.
func (e *Engine) BulkDelete(ctx context.Context, ids []models.MessageID) (BulkResult, error) {
	channelID := e.selection.ChannelID()
	if !e.selection.Active() || channelID == 0 {
		channelID = e.ActiveChannelID()
	}
	if channelID == 0 {
		return BulkResult{}, ErrNoActiveChannel
	}
	if len(ids) == 0 {
		ids = e.selection.IDs()
	}
	if len(ids) == 0 {
		return BulkResult{}, nil
	}

	var (
		mu      sync.Mutex
		deleted = make(map[models.MessageID]struct{}, len(ids))
		failed  = make(map[models.MessageID]error)
	)

	var g errgroup.Group
	g.SetLimit(e.bulkConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			var err error
			if id.IsProvisional() {
				err = ErrNotConfirmed
			} else {
				err = e.api.DeleteMessage(ctx, channelID, id)
			}

			if err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
				return nil
			}
			e.store.RemoveMessage(ctx, channelID, id)
			e.selection.Deselect(ctx, id)
			mu.Lock()
			deleted[id] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := BulkResult{}
	for _, id := range ids {
		if _, ok := deleted[id]; ok {
			result.Deleted = append(result.Deleted, id)
		} else if _, ok := failed[id]; ok {
			result.Failed = append(result.Failed, id)
		}
	}

	if len(failed) > 0 {
		e.metrics.BulkDeleteFailures(len(failed))
		logger := logging.WithChannel(e.logger, channelID)
		logger.Warn().
			Int("deleted", len(result.Deleted)).
			Int("failed", len(result.Failed)).
			Msg("bulk delete partially failed")
		return result, &BulkError{Failed: failed}
	}

	e.selection.Exit(ctx)
	return result, nil
}

// ForwardTarget is either an existing channel or a user, reached through
// a direct channel created on first use.
type ForwardTarget struct {
	ChannelID int64
	UserID    int64
}

func (t ForwardTarget) String() string {
	if t.UserID > 0 {
		return fmt.Sprintf("user:%d", t.UserID)
	}
	return fmt.Sprintf("channel:%d", t.ChannelID)
}

// ForwardResult lists the messages created by a forward, per destination
// channel in send order.
type ForwardResult struct {
	Sent []models.Message
}

// Forward copies messages to every target. Targets are processed one after
// another, and within a target the messages are sent sequentially in the
// given order. Each copy is tagged as forwarded with the origin channel name
// captured once up front. The source channel is never modified.
func (e *Engine) Forward(ctx context.Context, messages []models.Message, targets []ForwardTarget) (ForwardResult, error) {
	if len(messages) == 0 || len(targets) == 0 {
		return ForwardResult{}, nil
	}

	origin := ""
	if ch, ok := e.store.Channel(messages[0].ChannelID); ok {
		origin = ch.DisplayName()
	}

	var (
		result   ForwardResult
		failures []ForwardFailure
	)
	for _, target := range targets {
		channelID, err := e.resolveTarget(ctx, target)
		if err != nil {
			for _, msg := range messages {
				failures = append(failures, ForwardFailure{Target: target, MessageID: msg.ID, Err: err})
			}
			continue
		}

		for _, msg := range messages {
			sent, err := e.Send(ctx, SendRequest{
				ChannelID:   channelID,
				Content:     msg.Content,
				Attachments: msg.Attachments,
				Priority:    msg.Priority,
				Metadata: &models.MessageMetadata{
					IsForwarded:       true,
					OriginChannelName: origin,
				},
			})
			result.Sent = append(result.Sent, sent.Messages...)
			if err != nil {
				failures = append(failures, ForwardFailure{Target: target, MessageID: msg.ID, Err: err})
			}
		}
	}

	if len(failures) > 0 {
		return result, &ForwardError{Failures: failures}
	}
	return result, nil
}

func (e *Engine) resolveTarget(ctx context.Context, target ForwardTarget) (int64, error) {
	switch {
	case target.UserID > 0:
		ch, err := e.api.GetOrCreateDM(ctx, target.UserID)
		if err != nil {
			return 0, fmt.Errorf("direct channel with user %d: %w", target.UserID, err)
		}
		e.store.UpsertChannel(ctx, ch)
		return ch.ID, nil
	case target.ChannelID > 0:
		if _, ok := e.store.Channel(target.ChannelID); !ok {
			return 0, fmt.Errorf("%w: channel %d", ErrUnknownTarget, target.ChannelID)
		}
		return target.ChannelID, nil
	default:
		return 0, ErrUnknownTarget
	}
}
