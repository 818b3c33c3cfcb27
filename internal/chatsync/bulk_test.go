package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/models"
)

func seedThree(h *harness) {
	h.api.set(func(f *fakeAPI) {
		f.history[1] = []models.Message{
			{ID: "601", ChannelID: 1, Sender: &bob, Content: "a", CreatedAt: baseTime},
			{ID: "602", ChannelID: 1, Sender: &bob, Content: "b", CreatedAt: baseTime.Add(time.Second)},
			{ID: "603", ChannelID: 1, Sender: &bob, Content: "c", CreatedAt: baseTime.Add(2 * time.Second)},
		}
	})
}

func selectAll(t *testing.T, h *harness, ids ...models.MessageID) {
	t.Helper()
	require.NoError(t, h.engine.EnterMultiSelect(context.Background()))
	for _, id := range ids {
		selected, err := h.engine.ToggleSelect(context.Background(), id)
		require.NoError(t, err)
		require.True(t, selected)
	}
}

func TestBulkDelete_PartialFailure(t *testing.T) {
	h := newHarness(t)
	seedThree(h)
	h.activate(t, 1)
	selectAll(t, h, "601", "602", "603")
	h.api.set(func(f *fakeAPI) { f.deleteErr["602"] = errBoom })

	res, err := h.engine.BulkDelete(context.Background(), nil)

	var bulkErr *BulkError
	require.True(t, errors.As(err, &bulkErr))
	assert.Equal(t, []models.MessageID{"602"}, bulkErr.IDs())
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, []models.MessageID{"601", "603"}, res.Deleted)
	assert.Equal(t, []models.MessageID{"602"}, res.Failed)
	assert.Equal(t, []models.MessageID{"602"}, ids(h.engine.Messages(1)))
	assert.Equal(t, []models.MessageID{"602"}, h.engine.Selected())
	assert.True(t, h.engine.MultiSelecting(), "stays in multi-select so the caller can retry")

	h.api.set(func(f *fakeAPI) { delete(f.deleteErr, "602") })
	res, err = h.engine.BulkDelete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []models.MessageID{"602"}, res.Deleted)
	assert.False(t, h.engine.MultiSelecting())
	assert.Empty(t, h.engine.Messages(1))
}

func TestBulkDelete_ExplicitIDsAndProvisional(t *testing.T) {
	h := newHarness(t)
	seedThree(h)
	h.activate(t, 1)

	res, err := h.engine.BulkDelete(context.Background(), []models.MessageID{"601", "tmp-abc-1"})
	var bulkErr *BulkError
	require.True(t, errors.As(err, &bulkErr))
	assert.ErrorIs(t, bulkErr.Failed["tmp-abc-1"], ErrNotConfirmed)
	assert.Equal(t, []models.MessageID{"601"}, res.Deleted)
}

func TestBulkDelete_NoActiveChannel(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.BulkDelete(context.Background(), []models.MessageID{"1"})
	require.ErrorIs(t, err, ErrNoActiveChannel)
	require.ErrorIs(t, h.engine.EnterMultiSelect(context.Background()), ErrNoActiveChannel)
}

func TestToggleSelect_RequiresModeAndMessage(t *testing.T) {
	h := newHarness(t)
	seedThree(h)
	h.activate(t, 1)

	_, err := h.engine.ToggleSelect(context.Background(), "601")
	require.ErrorIs(t, err, ErrNotSelecting)

	require.NoError(t, h.engine.EnterMultiSelect(context.Background()))
	_, err = h.engine.ToggleSelect(context.Background(), "nope")
	require.Error(t, err)

	on, err := h.engine.ToggleSelect(context.Background(), "601")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := h.engine.ToggleSelect(context.Background(), "601")
	require.NoError(t, err)
	assert.False(t, off)

	h.engine.ExitMultiSelect(context.Background())
	assert.False(t, h.engine.MultiSelecting())
}

func TestScenario_ForwardToDirectAndChannelTargets(t *testing.T) {
	h := newHarness(t)
	h.api.set(func(f *fakeAPI) {
		f.history[1] = []models.Message{
			{ID: "601", ChannelID: 1, Sender: &bob, Content: "first", CreatedAt: baseTime},
			{ID: "602", ChannelID: 1, Sender: &bob, Content: "second", CreatedAt: baseTime.Add(time.Second)},
		}
	})
	h.activate(t, 1)
	source := h.engine.Messages(1)

	res, err := h.engine.Forward(context.Background(), source, []ForwardTarget{{UserID: bob.ID}, {ChannelID: 3}})
	require.NoError(t, err)
	require.Len(t, res.Sent, 4)

	h.api.mu.Lock()
	dmCalls := append([]int64(nil), h.api.dmCalls...)
	h.api.mu.Unlock()
	assert.Equal(t, []int64{bob.ID}, dmCalls, "direct channel resolved once")

	calls := h.api.createCalls()
	require.Len(t, calls, 4)
	dm := 900 + bob.ID
	wantChannels := []int64{dm, dm, 3, 3}
	wantContent := []string{"first", "second", "first", "second"}
	for i, call := range calls {
		assert.Equal(t, wantChannels[i], call.ChannelID, "call %d", i)
		assert.Equal(t, wantContent[i], call.Req.Content, "call %d", i)
		require.NotNil(t, call.Req.Metadata)
		assert.True(t, call.Req.Metadata.IsForwarded)
		assert.Equal(t, "general", call.Req.Metadata.OriginChannelName)
	}
	for _, msg := range res.Sent {
		assert.True(t, msg.IsForwarded())
	}

	assert.Equal(t, ids(source), ids(h.engine.Messages(1)), "source channel untouched")
	_, ok := h.engine.Store().Channel(dm)
	assert.True(t, ok)
	assert.Len(t, h.engine.Messages(dm), 2)
	assert.Len(t, h.engine.Messages(3), 2)
}

func TestForward_UnknownTargetReported(t *testing.T) {
	h := newHarness(t)
	h.activate(t, 1)
	msg := models.Message{ID: "1", ChannelID: 1, Content: "x"}

	res, err := h.engine.Forward(context.Background(), []models.Message{msg}, []ForwardTarget{{ChannelID: 99}, {ChannelID: 2}})
	require.ErrorIs(t, err, ErrUnknownTarget)

	var fwdErr *ForwardError
	require.True(t, errors.As(err, &fwdErr))
	require.Len(t, fwdErr.Failures, 1)
	assert.Equal(t, "channel:99", fwdErr.Failures[0].Target.String())
	assert.Len(t, res.Sent, 1, "other targets still receive the copy")
}
