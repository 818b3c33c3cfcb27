package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/db"
	"github.com/tOgg1/opsdesk/internal/models"
)

const maxBodyBytes = 1 << 20

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("X-User-ID")), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "X-User-ID header required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, id)))
	})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.ListForUser(r.Context(), actingUser(r.Context()))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req api.CreateChannelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = models.ChannelKindGroup
	}
	name := strings.TrimSpace(s.sanitize(req.Name))
	if name == "" || !kind.Valid() || kind == models.ChannelKindDirect {
		writeError(w, http.StatusBadRequest, "invalid_channel", "name and a non-direct kind are required")
		return
	}
	members := append([]int64{actingUser(r.Context())}, req.MemberIDs...)

	ch, err := s.channels.Create(r.Context(), models.Channel{Name: name, Kind: kind, MemberIDs: members})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.PushEvent{Kind: models.EventChannelCreated, ChannelID: ch.ID}, ch.MemberIDs)
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleDirectChannel(w http.ResponseWriter, r *http.Request) {
	var req api.DirectChannelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_user", "userId is required")
		return
	}
	ctx := r.Context()
	self := actingUser(ctx)

	ch, err := s.channels.FindDirect(ctx, self, req.UserID)
	if err == nil {
		writeJSON(w, http.StatusOK, ch)
		return
	}
	if !errors.Is(err, db.ErrChannelNotFound) {
		s.writeStoreError(w, err)
		return
	}

	ch, err = s.channels.Create(ctx, models.Channel{
		Name:      s.directName(ctx, self, req.UserID),
		Kind:      models.ChannelKindDirect,
		MemberIDs: []int64{self, req.UserID},
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.PushEvent{Kind: models.EventChannelCreated, ChannelID: ch.ID}, ch.MemberIDs)
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) directName(ctx context.Context, a, b int64) string {
	names := make([]string, 0, 2)
	for _, id := range models.NormalizeMembers([]int64{a, b}) {
		if user, err := s.users.Get(ctx, id); err == nil && user.DisplayName != "" {
			names = append(names, user.DisplayName)
		} else {
			names = append(names, "user "+strconv.FormatInt(id, 10))
		}
	}
	return strings.Join(names, ", ")
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	if err := s.channels.Delete(r.Context(), ch.ID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.PushEvent{Kind: models.EventChannelDeleted, ChannelID: ch.ID}, ch.MemberIDs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	var req api.MemberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	added, err := s.channels.AddMember(r.Context(), ch.ID, req.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if added {
		audience := append(append([]int64(nil), ch.MemberIDs...), req.UserID)
		s.hub.Publish(models.PushEvent{Kind: models.EventAccessGranted, ChannelID: ch.ID, UserID: req.UserID}, audience)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_user", "invalid user id")
		return
	}
	removed, err := s.channels.RemoveMember(r.Context(), ch.ID, userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if removed {
		s.hub.Publish(models.PushEvent{Kind: models.EventAccessRevoked, ChannelID: ch.ID, UserID: userID}, ch.MemberIDs)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	msgs, err := s.messages.ListRecent(r.Context(), ch.ID, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	var req api.CreateMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	content := s.sanitize(req.Content)
	if err := models.ValidateOutgoing(ch.ID, content, req.Attachments, req.Priority); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	ctx := r.Context()
	sender := models.UserRef{ID: actingUser(ctx)}
	msg, err := s.messages.Create(ctx, models.Message{
		ClientID:     req.ClientID,
		ChannelID:    ch.ID,
		Sender:       &sender,
		Content:      content,
		CreatedAt:    s.now().UTC(),
		Attachments:  req.Attachments,
		ReplyToID:    req.ReplyToID,
		LinkedTaskID: req.LinkedTaskID,
		Priority:     req.Priority,
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.PushEvent{Kind: models.EventMessage, ChannelID: ch.ID, Message: &msg}, ch.MemberIDs)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	var patch models.MessagePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	patch.ID = models.MessageID(chi.URLParam(r, "messageID"))
	if patch.Content != nil {
		content := s.sanitize(*patch.Content)
		patch.Content = &content
	}
	if patch.Priority != nil {
		if err := models.ValidatePriority(*patch.Priority); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_priority", err.Error())
			return
		}
	}

	msg, err := s.messages.Update(r.Context(), ch.ID, patch, s.now())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.PushEvent{Kind: models.EventMessageUpdated, ChannelID: ch.ID, Message: &msg, MessageID: msg.ID}, ch.MemberIDs)
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.memberChannel(w, r)
	if !ok {
		return
	}
	id := models.MessageID(chi.URLParam(r, "messageID"))
	if err := s.messages.Delete(r.Context(), ch.ID, id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.hub.Publish(models.PushEvent{Kind: models.EventMessageDeleted, ChannelID: ch.ID, MessageID: id}, ch.MemberIDs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	var req api.TaskStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.tasks.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// memberChannel loads the {channelID} route channel and checks that the
// acting user belongs to it.
func (s *Server) memberChannel(w http.ResponseWriter, r *http.Request) (models.Channel, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not_found", "channel not found")
		return models.Channel{}, false
	}
	ch, err := s.channels.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return models.Channel{}, false
	}
	if !ch.HasMember(actingUser(r.Context())) {
		writeError(w, http.StatusForbidden, "forbidden", "not a member of this channel")
		return models.Channel{}, false
	}
	return ch, true
}

// sanitize strips markup from user text. Entity-encoded input is decoded
// first so encoded tags are stripped too; the result stays HTML-escaped.
func (s *Server) sanitize(text string) string {
	return s.policy.Sanitize(html.UnescapeString(text))
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrChannelNotFound), errors.Is(err, db.ErrMessageNotFound), errors.Is(err, db.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, models.ErrInvalidTaskStatus), errors.Is(err, models.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error().Err(err).Msg("store failure")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorBody{Error: message, Code: code})
}
