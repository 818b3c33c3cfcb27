package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/models"
)

func userRef(id int64, name string) models.UserRef {
	return models.UserRef{ID: id, DisplayName: name}
}

func TestChannelRepository_MembershipLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewChannelRepository(db)

	general, err := repo.Create(ctx, models.Channel{ID: 1, Name: "general", Kind: models.ChannelKindGroup, MemberIDs: []int64{2, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, general.MemberIDs)

	ops, err := repo.Create(ctx, models.Channel{Name: "ops", Kind: models.ChannelKindDepartment, MemberIDs: []int64{1}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ops.ID)

	_, err = repo.Create(ctx, models.Channel{Name: "bad", Kind: "weird"})
	require.Error(t, err)

	bobs, err := repo.ListForUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "general", bobs[0].Name)
	assert.Equal(t, []int64{1, 2}, bobs[0].MemberIDs)

	added, err := repo.AddMember(ctx, ops.ID, 2)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddMember(ctx, ops.ID, 2)
	require.NoError(t, err)
	assert.False(t, added)
	_, err = repo.AddMember(ctx, 99, 2)
	require.ErrorIs(t, err, ErrChannelNotFound)

	member, err := repo.IsMember(ctx, ops.ID, 2)
	require.NoError(t, err)
	assert.True(t, member)

	removed, err := repo.RemoveMember(ctx, ops.ID, 2)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.RemoveMember(ctx, ops.ID, 2)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, repo.Delete(ctx, ops.ID))
	require.ErrorIs(t, repo.Delete(ctx, ops.ID), ErrChannelNotFound)
	_, err = repo.Get(ctx, ops.ID)
	require.ErrorIs(t, err, ErrChannelNotFound)
}

func TestChannelRepository_FindDirect(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewChannelRepository(db)

	_, err := repo.Create(ctx, models.Channel{Name: "general", Kind: models.ChannelKindGroup, MemberIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = repo.FindDirect(ctx, 1, 2)
	require.ErrorIs(t, err, ErrChannelNotFound, "group channels never count as direct")

	_, err = repo.Create(ctx, models.Channel{Kind: models.ChannelKindDirect, MemberIDs: []int64{1, 2, 3}})
	require.NoError(t, err)
	dm, err := repo.Create(ctx, models.Channel{Kind: models.ChannelKindDirect, MemberIDs: []int64{2, 1}})
	require.NoError(t, err)

	found, err := repo.FindDirect(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, dm.ID, found.ID)

	self, err := repo.Create(ctx, models.Channel{Kind: models.ChannelKindDirect, MemberIDs: []int64{1}})
	require.NoError(t, err)
	found, err = repo.FindDirect(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, self.ID, found.ID)
}

func TestMessageRepository_CreateListUpdateDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, NewUserRepository(db).Upsert(ctx, userRef(1, "alice")))
	ch, err := NewChannelRepository(db).Create(ctx, models.Channel{Name: "general", Kind: models.ChannelKindGroup, MemberIDs: []int64{1}})
	require.NoError(t, err)
	repo := NewMessageRepository(db)

	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	alice := userRef(1, "")
	var created []models.Message
	for i, content := range []string{"one", "two", "three"} {
		msg, err := repo.Create(ctx, models.Message{
			ChannelID: ch.ID,
			ClientID:  models.MessageID("tmp-x-" + content),
			Sender:    &alice,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		created = append(created, msg)
	}
	first := created[0]
	assert.Equal(t, models.MessageID("1"), first.ID)
	assert.Equal(t, models.MessageID("tmp-x-one"), first.ClientID)
	require.NotNil(t, first.Sender)
	assert.Equal(t, "alice", first.Sender.DisplayName)
	assert.True(t, base.Equal(first.CreatedAt))

	forwarded, err := repo.Create(ctx, models.Message{
		ChannelID:   ch.ID,
		CreatedAt:   base.Add(time.Minute),
		Attachments: []models.Attachment{{URL: "https://x/a.png", Kind: models.AttachmentImage}},
		Metadata:    &models.MessageMetadata{IsForwarded: true, OriginChannelName: "ops"},
	})
	require.NoError(t, err)
	assert.Nil(t, forwarded.Sender)
	assert.True(t, forwarded.IsForwarded())
	assert.Len(t, forwarded.Attachments, 1)

	recent, err := repo.ListRecent(ctx, ch.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Content, "most recent N, oldest first")
	assert.Equal(t, forwarded.ID, recent[1].ID)

	edited := base.Add(time.Hour)
	content := "one, edited"
	updated, err := repo.Update(ctx, ch.ID, models.MessagePatch{ID: first.ID, Content: &content}, edited)
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)
	require.NotNil(t, updated.EditedAt)
	assert.True(t, edited.Equal(*updated.EditedAt))

	status := "pinned"
	updated, err = repo.Update(ctx, ch.ID, models.MessagePatch{ID: first.ID, Status: &status}, edited.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, edited.Equal(*updated.EditedAt), "non-content patches keep the edit time")

	require.NoError(t, repo.Delete(ctx, ch.ID, first.ID))
	require.ErrorIs(t, repo.Delete(ctx, ch.ID, first.ID), ErrMessageNotFound)
	require.ErrorIs(t, repo.Delete(ctx, ch.ID, "tmp-abc-1"), ErrMessageNotFound)
	_, err = repo.Get(ctx, ch.ID+1, created[1].ID)
	require.ErrorIs(t, err, ErrMessageNotFound, "ids are scoped to their channel")
}

func TestTaskRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewTaskRepository(db)

	require.NoError(t, repo.Upsert(ctx, models.Task{ID: 12, Title: "ship", Status: models.TaskStatusTodo, Priority: models.PriorityHigh}))
	require.NoError(t, repo.Upsert(ctx, models.Task{ID: 3, Title: "plan", Status: models.TaskStatusDone}))
	require.Error(t, repo.Upsert(ctx, models.Task{ID: 4, Title: "x", Status: "nope"}))

	tasks, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(3), tasks[0].ID)

	task, err := repo.UpdateStatus(ctx, 12, models.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)
	assert.Equal(t, models.PriorityHigh, task.Priority)

	_, err = repo.UpdateStatus(ctx, 99, models.TaskStatusDone)
	require.ErrorIs(t, err, ErrTaskNotFound)
	_, err = repo.UpdateStatus(ctx, 12, "later")
	require.ErrorIs(t, err, models.ErrInvalidTaskStatus)
}
