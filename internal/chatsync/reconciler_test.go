package chatsync

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

func TestReconciler_OrderingUnderShuffledArrival(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 3)

	rng := rand.New(rand.NewSource(7))
	want := []models.MessageID{"m1", "m2", "m3", "m4", "m5", "m6"}
	for trial := 0; trial < 20; trial++ {
		h.engine.Store().ReplaceMessages(context.Background(), 3, nil)

		order := rng.Perm(len(want))
		for _, i := range order {
			h.push(messageEvent(3, want[i], bob, "x", baseTime.Add(time.Duration(i)*time.Second)))
		}
		require.Equal(t, want, ids(h.engine.Messages(3)), "arrival order %v", order)
	}
}

func TestReconciler_InactiveChannelOnlyCounts(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)

	h.push(messageEvent(2, "900", bob, "hi", baseTime))

	assert.Empty(t, h.engine.Messages(2), "inactive channel log untouched")
	assert.Equal(t, 1, h.engine.Unread(2))
	assert.Zero(t, h.engine.Unread(1))
}

func TestReconciler_SelfEchoNeverCounts(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)

	h.push(messageEvent(2, "900", alice, "mine @alice", baseTime))
	h.push(messageEvent(1, "901", alice, "mine too", baseTime))

	assert.Zero(t, h.engine.Unread(2))
	assert.Zero(t, h.engine.Mentions(2))
	assert.Zero(t, h.engine.Unread(1))

	h.push(messageEvent(2, "902", bob, "hey @alice", baseTime))
	h.push(messageEvent(2, "902", bob, "hey @alice", baseTime))
	h.push(messageEvent(2, "903", bob, "plain", baseTime))
	assert.Equal(t, 2, h.engine.Unread(2))
	assert.Equal(t, 1, h.engine.Mentions(2))
}

func TestReconciler_MentionNeverExceedsUnread(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)

	rng := rand.New(rand.NewSource(11))
	senders := []models.UserRef{alice, bob}
	contents := []string{"hello", "@alice ping", "cc @Alice", "@alicex no", "status?"}
	channels := []int64{1, 2, 3}

	for i := 0; i < 300; i++ {
		channelID := channels[rng.Intn(len(channels))]
		id := models.ServerMessageID(int64(1000 + rng.Intn(200)))
		h.push(messageEvent(channelID, id, senders[rng.Intn(len(senders))], contents[rng.Intn(len(contents))], baseTime))
		if rng.Intn(50) == 0 {
			h.activate(t, channels[rng.Intn(len(channels))])
		}
		for _, c := range channels {
			require.LessOrEqual(t, h.engine.Mentions(c), h.engine.Unread(c), "channel %d after event %d", c, i)
		}
	}
}

func TestReconciler_UpdateAndDeleteActiveOnly(t *testing.T) {
	h := newHarness(t)
	h.api.set(func(f *fakeAPI) {
		f.history[1] = []models.Message{{ID: "10", ChannelID: 1, Sender: &bob, Content: "draft", CreatedAt: baseTime}}
		f.history[2] = []models.Message{{ID: "20", ChannelID: 2, Sender: &bob, Content: "other", CreatedAt: baseTime}}
	})
	h.activate(t, 2)
	h.activate(t, 1)

	h.push(models.PushEvent{Kind: models.EventMessageUpdated, ChannelID: 1, Message: &models.Message{ID: "10", Content: "final", CreatedAt: baseTime.Add(time.Hour)}})
	h.push(models.PushEvent{Kind: models.EventMessageUpdated, ChannelID: 2, Message: &models.Message{ID: "20", Content: "ignored"}})

	msg, ok := h.engine.Store().Message(1, "10")
	require.True(t, ok)
	assert.Equal(t, "final", msg.Content)
	assert.True(t, msg.CreatedAt.Equal(baseTime), "edits keep the send time")
	assert.Equal(t, bob.ID, msg.Sender.ID)

	other, _ := h.engine.Store().Message(2, "20")
	assert.Equal(t, "other", other.Content)

	h.push(models.PushEvent{Kind: models.EventMessageDeleted, ChannelID: 2, MessageID: "20"})
	h.push(models.PushEvent{Kind: models.EventMessageDeleted, ChannelID: 1, MessageID: "10"})
	h.push(models.PushEvent{Kind: models.EventMessageDeleted, ChannelID: 1, MessageID: "10"})

	assert.Empty(t, h.engine.Messages(1))
	assert.Len(t, h.engine.Messages(2), 1)
}

func TestReconciler_ChannelLifecycleOnlyRefetches(t *testing.T) {
	h := newHarness(t)
	h.api.set(func(f *fakeAPI) {
		f.channels = append(f.channels, models.Channel{ID: 9, Name: "new", Kind: models.ChannelKindGroup})
		f.listChannelsErr = errBoom
	})

	h.push(models.PushEvent{Kind: models.EventChannelCreated, ChannelID: 9})
	_, ok := h.engine.Store().Channel(9)
	assert.False(t, ok, "lifecycle events are not applied as deltas")

	h.api.set(func(f *fakeAPI) { f.listChannelsErr = nil })
	h.push(models.PushEvent{Kind: models.EventChannelCreated, ChannelID: 9})
	_, ok = h.engine.Store().Channel(9)
	assert.True(t, ok)

	h.api.set(func(f *fakeAPI) { f.channels = f.channels[:len(f.channels)-1] })
	h.push(models.PushEvent{Kind: models.EventChannelDeleted, ChannelID: 9})
	_, ok = h.engine.Store().Channel(9)
	assert.False(t, ok)
}

func TestReconciler_AccessRevokedForActiveChannel(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 3)
	h.api.set(func(f *fakeAPI) {
		f.channels = []models.Channel{f.channels[0], f.channels[1], f.channels[3]}
	})
	h.rec.reset()

	h.push(models.PushEvent{Kind: models.EventAccessRevoked, ChannelID: 3, UserID: alice.ID})

	forced := h.rec.ofKind(events.KindForcedNavigation)
	require.Len(t, forced, 1)
	assert.Equal(t, int64(1), forced[0].ChannelID)
	assert.Equal(t, int64(1), h.engine.ActiveChannelID())
	_, ok := h.engine.Store().Channel(3)
	assert.False(t, ok)
}

func TestReconciler_AccessRevokedForInactiveChannelIsOptimistic(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)
	h.push(messageEvent(3, "30", bob, "unread", baseTime))
	require.Equal(t, 1, h.engine.Unread(3))

	// The confirming refresh fails; the ghost is gone regardless.
	h.api.set(func(f *fakeAPI) { f.listChannelsErr = errBoom })
	h.push(models.PushEvent{Kind: models.EventAccessRevoked, ChannelID: 3})

	for _, ch := range h.engine.Channels() {
		assert.NotEqual(t, int64(3), ch.ID)
	}
	assert.Zero(t, h.engine.Unread(3))
	assert.Equal(t, int64(1), h.engine.ActiveChannelID())
}

func TestReconciler_AccessRevokedForAnotherUserRefreshesOnly(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)
	before, _ := h.api.counts()

	h.push(models.PushEvent{Kind: models.EventAccessRevoked, ChannelID: 3, UserID: bob.ID})

	_, ok := h.engine.Store().Channel(3)
	assert.True(t, ok)
	after, _ := h.api.counts()
	assert.Equal(t, before+1, after)
}

func TestReconciler_ReconnectRefreshesAndRefetches(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)
	channelsBefore, listBefore := h.api.counts()

	h.push(models.PushEvent{Kind: models.EventReconnected})

	require.Eventually(t, func() bool {
		channelsAfter, listAfter := h.api.counts()
		return channelsAfter == channelsBefore+1 && listAfter == listBefore+1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconciler_PresenceAndTyping(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)

	h.push(models.PushEvent{Kind: models.EventPresence, UserID: bob.ID, Online: true})
	assert.True(t, h.engine.Online(bob.ID))
	h.push(models.PushEvent{Kind: models.EventPresence, UserID: bob.ID, Online: false})
	assert.False(t, h.engine.Online(bob.ID))

	h.push(models.PushEvent{Kind: models.EventTyping, ChannelID: 1, UserID: bob.ID})
	h.push(models.PushEvent{Kind: models.EventTyping, ChannelID: 1, UserID: alice.ID})
	assert.Equal(t, []int64{bob.ID}, h.engine.Typing(1))

	h.advance(6 * time.Second)
	assert.Empty(t, h.engine.Typing(1))

	h.push(models.PushEvent{Kind: models.EventTyping, ChannelID: 1, UserID: bob.ID})
	h.push(messageEvent(1, "55", bob, "sent", baseTime))
	assert.Empty(t, h.engine.Typing(1), "a message from the typer clears the indicator")
}

func TestRun_ConsumesUntilClosed(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)

	stream := make(chan models.PushEvent, 2)
	stream <- messageEvent(1, "77", bob, "via run", baseTime)
	stream <- messageEvent(2, "78", bob, "elsewhere", baseTime)
	close(stream)

	require.NoError(t, h.engine.Run(context.Background(), stream))
	assert.Equal(t, []models.MessageID{"77"}, ids(h.engine.Messages(1)))
	assert.Equal(t, 1, h.engine.Unread(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.engine.Run(ctx, make(chan models.PushEvent)), context.Canceled)
}
