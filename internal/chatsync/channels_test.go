package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

func channelIDs(channels []models.Channel) []int64 {
	out := make([]int64, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.ID)
	}
	return out
}

func TestChannels_DisplayOrder(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []int64{1, 7, 2, 3}, channelIDs(h.engine.Channels()), "by name: general, launch, ops, random")

	h.rec.reset()
	h.engine.ReorderChannels(context.Background(), []int64{3, 99, 2})
	assert.Equal(t, []int64{3, 2, 1, 7}, channelIDs(h.engine.Channels()))
	assert.Len(t, h.rec.ofKind(events.KindChannelsChanged), 1)
}

func TestRefreshChannels_FailureKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.api.set(func(f *fakeAPI) { f.listChannelsErr = errBoom })

	require.ErrorIs(t, h.engine.RefreshChannels(context.Background()), errBoom)
	assert.Len(t, h.engine.Channels(), 4)
}

func TestNotifyTyping_Debounced(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.engine.NotifyTyping(context.Background(), 1))
	assert.False(t, h.engine.NotifyTyping(context.Background(), 1))
	assert.True(t, h.engine.NotifyTyping(context.Background(), 2))

	h.advance(2 * time.Second)
	assert.False(t, h.engine.NotifyTyping(context.Background(), 1))

	h.advance(1100 * time.Millisecond)
	assert.True(t, h.engine.NotifyTyping(context.Background(), 1))

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 1}, h.transport.sent)
}

func TestProvisionalIDs_UniqueAndPrefixed(t *testing.T) {
	gen := NewProvisionalIDs()
	seen := make(map[models.MessageID]struct{})
	for i := 0; i < 1000; i++ {
		id := gen.Next()
		require.True(t, id.IsProvisional())
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
	assert.NotEqual(t, NewProvisionalIDs().Next(), NewProvisionalIDs().Next())
}
