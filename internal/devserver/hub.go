package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/transport"
)

const defaultSubscriberBuffer = 64

// MembersFunc resolves the member ids of a channel.
type MembersFunc func(ctx context.Context, channelID int64) ([]int64, error)

type subscriber struct {
	userID int64
	events chan models.PushEvent
}

// Hub fans push events out to connected transports. Delivery to a slow
// subscriber is dropped rather than blocking the publisher.
type Hub struct {
	logger  zerolog.Logger
	members MembersFunc
	buffer  int
	now     func() time.Time

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub. members is used to route typing signals.
func NewHub(members MembersFunc, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		members: members,
		buffer:  defaultSubscriberBuffer,
		now:     time.Now,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish delivers ev to every connection of the users in audience. A nil
// audience means every connected user.
func (h *Hub) Publish(ev models.PushEvent, audience []int64) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	var allowed map[int64]struct{}
	if audience != nil {
		allowed = make(map[int64]struct{}, len(audience))
		for _, id := range audience {
			allowed[id] = struct{}{}
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if allowed != nil {
			if _, ok := allowed[sub.userID]; !ok {
				continue
			}
		}
		select {
		case sub.events <- models.ClonePushEvent(ev):
		default:
			h.logger.Warn().Int64("user_id", sub.userID).Str("kind", string(ev.Kind)).Msg("subscriber buffer full; event dropped")
		}
	}
}

// Online lists the users with at least one open connection.
func (h *Hub) Online() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[int64]struct{})
	for sub := range h.subs {
		seen[sub.userID] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serve accepts transport connections until ctx is done or ln fails.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer h.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handleConn(ctx, conn)
		}()
	}
}

func (h *Hub) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	line, err := transport.ReadLine(reader)
	if err != nil {
		return
	}
	var req transport.Request
	if err := json.Unmarshal(line, &req); err != nil || req.Cmd != transport.CmdSubscribe || req.UserID <= 0 {
		_ = transport.WriteLine(writer, transport.Ack{Error: &transport.FrameError{
			Code:    "bad_request",
			Message: "expected subscribe with a user id",
		}})
		return
	}
	if err := transport.WriteLine(writer, transport.Ack{OK: true}); err != nil {
		return
	}

	sub := h.register(req.UserID)
	logger := h.logger.With().Int64("user_id", req.UserID).Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("push subscriber connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		for {
			select {
			case <-connCtx.Done():
				return
			case ev := <-sub.events:
				if err := transport.WriteLine(writer, transport.Envelope{Event: &ev}); err != nil {
					return
				}
			}
		}
	}()

	for {
		line, err := transport.ReadLine(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && connCtx.Err() == nil {
				logger.Debug().Err(err).Msg("push subscriber read failed")
			}
			break
		}
		var frame transport.Request
		if err := json.Unmarshal(line, &frame); err != nil {
			logger.Debug().Err(err).Msg("undecodable client frame")
			continue
		}
		if frame.Cmd == transport.CmdTyping {
			h.relayTyping(connCtx, req.UserID, frame.ChannelID)
		}
	}

	cancel()
	<-writerDone
	h.unregister(sub)
	logger.Debug().Msg("push subscriber disconnected")
}

func (h *Hub) relayTyping(ctx context.Context, userID, channelID int64) {
	if channelID <= 0 || h.members == nil {
		return
	}
	members, err := h.members(ctx, channelID)
	if err != nil {
		h.logger.Debug().Err(err).Int64("channel_id", channelID).Msg("typing relay skipped")
		return
	}
	audience := make([]int64, 0, len(members))
	isMember := false
	for _, id := range members {
		if id == userID {
			isMember = true
			continue
		}
		audience = append(audience, id)
	}
	if !isMember || len(audience) == 0 {
		return
	}
	h.Publish(models.PushEvent{Kind: models.EventTyping, ChannelID: channelID, UserID: userID}, audience)
}

func (h *Hub) register(userID int64) *subscriber {
	sub := &subscriber{userID: userID, events: make(chan models.PushEvent, h.buffer)}
	h.mu.Lock()
	first := !h.connectedLocked(userID)
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	if first {
		h.Publish(models.PushEvent{Kind: models.EventPresence, UserID: userID, Online: true}, nil)
	}
	return sub
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	last := !h.connectedLocked(sub.userID)
	h.mu.Unlock()

	if last {
		h.Publish(models.PushEvent{Kind: models.EventPresence, UserID: sub.userID, Online: false}, nil)
	}
}

func (h *Hub) connectedLocked(userID int64) bool {
	for sub := range h.subs {
		if sub.userID == userID {
			return true
		}
	}
	return false
}
