package chatsync

import (
	"context"
	"fmt"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/metrics"
	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/tasks"
)

// SendRequest is one user send.
type SendRequest struct {
	ChannelID    int64
	Content      string
	Attachments  []models.Attachment
	ReplyToID    models.MessageID
	LinkedTaskID int64
	Priority     models.Priority
	Metadata     *models.MessageMetadata
}

// SendResult lists the server-confirmed messages of a send, in the order
// they were created. A send with N attachments yields max(1, N) messages.
type SendResult struct {
	ProvisionalID models.MessageID
	Messages      []models.Message
}

// Send inserts a provisional message into the store before any network
// call, then creates it on the server. The first payload carries the text
// and the first attachment; each further attachment is its own follow-up
// message. The target channel is captured here, so confirmations land in it
// even if another channel is active by then.
func (e *Engine) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := models.ValidateOutgoing(req.ChannelID, req.Content, req.Attachments, req.Priority); err != nil {
		return SendResult{}, err
	}

	channelID := req.ChannelID
	provisional := e.ids.Next()
	logger := logging.WithChannel(e.logger, channelID).With().Str("provisional_id", provisional.String()).Logger()

	self := e.self
	optimistic := models.Message{
		ID:           provisional,
		ClientID:     provisional,
		ChannelID:    channelID,
		Sender:       &self,
		Content:      req.Content,
		CreatedAt:    e.now().UTC(),
		Attachments:  req.Attachments,
		ReplyToID:    req.ReplyToID,
		LinkedTaskID: req.LinkedTaskID,
		Priority:     req.Priority,
		Metadata:     req.Metadata,
	}
	e.store.UpsertMessage(ctx, optimistic)
	e.scrollOnArrival(ctx, channelID, provisional)

	payloads := splitPayloads(provisional, req)
	result := SendResult{ProvisionalID: provisional}

	first, err := e.api.CreateMessage(ctx, channelID, payloads[0])
	if err != nil {
		e.store.RetireMessage(ctx, channelID, provisional)
		e.metrics.Send(metrics.ResultError)
		logger.Warn().Err(err).Msg("send failed; rolled back")
		sendErr := &SendError{ChannelID: channelID, ProvisionalID: provisional, Err: err}
		e.publish(ctx, &events.Notification{
			Kind:       events.KindSendFailed,
			ChannelID:  channelID,
			MessageIDs: []models.MessageID{provisional},
			Err:        sendErr,
		})
		return result, sendErr
	}
	first.ChannelID = channelID
	e.store.Reconcile(ctx, channelID, provisional, first)
	result.Messages = append(result.Messages, first)
	e.metrics.Send(metrics.ResultOK)

	for _, payload := range payloads[1:] {
		msg, err := e.api.CreateMessage(ctx, channelID, payload)
		if err != nil {
			e.metrics.Send(metrics.ResultError)
			logger.Warn().Err(err).Int("confirmed", len(result.Messages)).Msg("follow-up attachment failed")
			sendErr := &SendError{ChannelID: channelID, ProvisionalID: provisional, Confirmed: result.Messages, Err: err}
			e.publish(ctx, &events.Notification{Kind: events.KindSendFailed, ChannelID: channelID, Err: sendErr})
			return result, sendErr
		}
		msg.ChannelID = channelID
		e.store.UpsertMessage(ctx, msg)
		e.scrollOnArrival(ctx, channelID, msg.ID)
		result.Messages = append(result.Messages, msg)
		e.metrics.Send(metrics.ResultOK)
	}

	e.applyStatusPhrase(ctx, channelID, req)
	return result, nil
}

func splitPayloads(provisional models.MessageID, req SendRequest) []api.CreateMessageRequest {
	first := api.CreateMessageRequest{
		ClientID:     provisional,
		Content:      req.Content,
		ReplyToID:    req.ReplyToID,
		LinkedTaskID: req.LinkedTaskID,
		Priority:     req.Priority,
		Metadata:     req.Metadata,
	}
	if len(req.Attachments) == 0 {
		return []api.CreateMessageRequest{first}
	}
	first.Attachments = []models.Attachment{req.Attachments[0]}

	out := make([]api.CreateMessageRequest, 0, len(req.Attachments))
	out = append(out, first)
	for _, att := range req.Attachments[1:] {
		out = append(out, api.CreateMessageRequest{
			Attachments: []models.Attachment{att},
			Metadata:    req.Metadata,
		})
	}
	return out
}

// applyStatusPhrase patches the linked task of the replied-to message when
// the reply reads like a status change. Failures are logged only.
func (e *Engine) applyStatusPhrase(ctx context.Context, channelID int64, req SendRequest) {
	if req.ReplyToID == "" {
		return
	}
	parent, ok := e.store.Message(channelID, req.ReplyToID)
	if !ok || parent.LinkedTaskID <= 0 {
		return
	}
	status, ok := tasks.MatchStatusPhrase(req.Content)
	if !ok {
		return
	}
	if current, known := e.tasks.Lookup(parent.LinkedTaskID); known && current.Status == status {
		return
	}
	if _, err := e.tasks.SetStatus(ctx, parent.LinkedTaskID, status); err != nil {
		logger := logging.WithChannel(e.logger, channelID)
		logger.Warn().Err(err).
			Int64("task_id", parent.LinkedTaskID).
			Str("status", string(status)).
			Msg("task status patch failed")
	}
}

// Delete removes a confirmed message on the server, then from the store.
// On failure the entry stays.
func (e *Engine) Delete(ctx context.Context, channelID int64, id models.MessageID) error {
	if id.IsProvisional() {
		return ErrNotConfirmed
	}
	if err := e.api.DeleteMessage(ctx, channelID, id); err != nil {
		logger := logging.WithChannel(e.logger, channelID)
		logger.Warn().Err(err).Str("message_id", id.String()).Msg("delete failed")
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	e.store.RemoveMessage(ctx, channelID, id)
	e.selection.Deselect(ctx, id)
	return nil
}

// Update merges a status or edit patch into the message. The patch is
// applied locally first and reverted if the server rejects it. The
// message's position never changes.
func (e *Engine) Update(ctx context.Context, channelID int64, patch models.MessagePatch) (models.Message, error) {
	if patch.ID == "" || patch.Empty() {
		return models.Message{}, fmt.Errorf("update message: empty patch")
	}
	if patch.ID.IsProvisional() {
		return models.Message{}, ErrNotConfirmed
	}
	if patch.Priority != nil {
		if err := models.ValidatePriority(*patch.Priority); err != nil {
			return models.Message{}, err
		}
	}

	previous, existed := e.store.Message(channelID, patch.ID)
	if existed {
		e.store.PatchMessage(ctx, channelID, patch)
	}

	confirmed, err := e.api.PatchMessage(ctx, channelID, patch)
	if err != nil {
		if existed {
			e.store.MergeMessage(ctx, channelID, previous)
		}
		logger := logging.WithChannel(e.logger, channelID)
		logger.Warn().Err(err).Str("message_id", patch.ID.String()).Msg("update failed")
		return models.Message{}, fmt.Errorf("update message %s: %w", patch.ID, err)
	}

	if merged, ok := e.store.MergeMessage(ctx, channelID, confirmed); ok {
		return merged, nil
	}
	confirmed.ChannelID = channelID
	return confirmed, nil
}
