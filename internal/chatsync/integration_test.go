package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/tasks"
	"github.com/tOgg1/opsdesk/internal/testutil"
	"github.com/tOgg1/opsdesk/internal/transport"
)

func TestEngineAgainstReferenceBackend(t *testing.T) {
	backend := testutil.StartBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aliceAPI, err := api.NewHTTPClient(api.HTTPConfig{BaseURL: backend.URL, UserID: 1})
	require.NoError(t, err)
	bobAPI, err := api.NewHTTPClient(api.HTTPConfig{BaseURL: backend.URL, UserID: 2})
	require.NoError(t, err)
	push, err := transport.New(transport.Config{Addr: backend.PushAddr, UserID: 1})
	require.NoError(t, err)

	engine := New(Options{
		API:              aliceAPI,
		Self:             models.UserRef{ID: 1, DisplayName: "alice"},
		Tasks:            tasks.NewMirror(aliceAPI),
		Transport:        push,
		DefaultChannelID: 1,
	})
	runDone := make(chan error, 1)
	go func() { runDone <- engine.Run(ctx, push.Subscribe(ctx)) }()

	act, err := engine.Bootstrap(ctx)
	require.NoError(t, err)
	require.NoError(t, act.Wait(ctx))
	require.Eventually(t, func() bool { return engine.Online(1) }, 3*time.Second, 10*time.Millisecond)

	res, err := engine.Send(ctx, SendRequest{ChannelID: 1, Content: "deploying #31"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	mine := res.Messages[0]

	_, err = bobAPI.CreateMessage(ctx, 2, api.CreateMessageRequest{Content: "ops ping"})
	require.NoError(t, err)
	reply, err := bobAPI.CreateMessage(ctx, 1, api.CreateMessageRequest{Content: "ack"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(engine.Messages(1)) >= 2 && engine.Unread(2) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []models.MessageID{mine.ID, reply.ID}, ids(engine.Messages(1)), "the push echo of our own send is not duplicated")
	assert.Zero(t, engine.Unread(1))

	links := engine.TaskLinks(mine)
	require.Len(t, links, 1)
	assert.Equal(t, int64(31), links[0].ID)

	cancel()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
	}
}
