package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/testutil"
)

func writeConfig(t *testing.T, baseURL, pushAddr string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "opsdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
session:
  user_id: 1
  display_name: alice
  default_channel_id: 1
api:
  base_url: %s
  timeout: 2s
push:
  addr: %s
  reconnect_interval: 50ms
prefs:
  path: %s
`, baseURL, pushAddr, filepath.Join(dir, "prefs.json"))), 0o600))
	return path
}

// syncBuffer lets the test read output while a command is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	root := NewRootCmd("test")
	root.SetOut(out)
	root.SetErr(&syncBuffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd("dev")
	for _, name := range []string{"serve", "channels", "watch", "send", "config"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, found.Name())
	}
	found, _, err := root.Find([]string{"ls"})
	require.NoError(t, err)
	assert.Equal(t, "channels", found.Name())
}

func TestChannelsCmd_TableInDisplayOrder(t *testing.T) {
	b := testutil.StartBackend(t)
	cfgPath := writeConfig(t, b.URL, b.PushAddr)

	out, err := execute(t, context.Background(), "--config", cfgPath, "channels")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "MENTIONS")
	assert.Contains(t, lines[1], "general")
	assert.Contains(t, lines[2], "launch")
	assert.Contains(t, lines[3], "department")
}

func TestSendCmd_ThenChannelsJSON(t *testing.T) {
	b := testutil.StartBackend(t)
	cfgPath := writeConfig(t, b.URL, b.PushAddr)
	ctx := context.Background()

	out, err := execute(t, ctx, "--config", cfgPath, "send", "1", "rolling out",
		"--priority", "high", "--attach", "https://files.example/a.png", "--attach", "https://files.example/b.pdf")
	require.NoError(t, err)
	ids := strings.Fields(out)
	require.Len(t, ids, 2)
	for _, id := range ids {
		assert.False(t, models.MessageID(id).IsProvisional())
	}

	out, err = execute(t, ctx, "--config", cfgPath, "channels", "--json")
	require.NoError(t, err)
	var rows []channelRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.NotEmpty(t, rows)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, 2, rows[0].Messages)
	assert.NotNil(t, rows[0].LastAt)
}

func TestSendCmd_Validation(t *testing.T) {
	b := testutil.StartBackend(t)
	cfgPath := writeConfig(t, b.URL, b.PushAddr)
	ctx := context.Background()

	_, err := execute(t, ctx, "--config", cfgPath, "send", "1", "x", "--priority", "meh")
	require.ErrorContains(t, err, "invalid priority")

	_, err = execute(t, ctx, "--config", cfgPath, "send", "zero", "x")
	require.ErrorContains(t, err, "invalid channel id")

	_, err = execute(t, ctx, "--config", cfgPath, "send", "1", "   ")
	require.ErrorIs(t, err, models.ErrEmptyMessage)
}

func TestWatchCmd_PrintsHistoryAndLiveMessages(t *testing.T) {
	b := testutil.StartBackend(t)
	cfgPath := writeConfig(t, b.URL, b.PushAddr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bob, err := api.NewHTTPClient(api.HTTPConfig{BaseURL: b.URL, UserID: 2})
	require.NoError(t, err)
	_, err = bob.CreateMessage(ctx, 1, api.CreateMessageRequest{Content: "before"})
	require.NoError(t, err)

	out := &syncBuffer{}
	root := NewRootCmd("test")
	root.SetOut(out)
	root.SetErr(&syncBuffer{})
	root.SetArgs([]string{"--config", cfgPath, "watch", "1"})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "bob: before") }, 3*time.Second, 10*time.Millisecond)

	// The subscription is only known to be live once a pushed message
	// shows up, so keep posting until one does.
	require.Eventually(t, func() bool {
		if _, err := bob.CreateMessage(ctx, 1, api.CreateMessageRequest{Content: "live #31"}); err != nil {
			return false
		}
		return strings.Contains(out.String(), "bob: live #31 [#31 in_progress]")
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestConfigCmd_PrintsEffectiveSettings(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1", "127.0.0.1:2")

	out, err := execute(t, context.Background(), "--config", cfgPath, "--log-level", "debug", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "# "+cfgPath)
	assert.Contains(t, out, "base_url: http://127.0.0.1:1")
	assert.Contains(t, out, "level: debug")
}

func TestAttachmentKind(t *testing.T) {
	tests := []struct {
		url  string
		want models.AttachmentKind
	}{
		{"https://x/a.PNG", models.AttachmentImage},
		{"https://x/clip.mp4?t=3", models.AttachmentVideo},
		{"https://x/note.ogg#x", models.AttachmentAudio},
		{"https://x/report.pdf", models.AttachmentFile},
		{"https://x/noext", models.AttachmentFile},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, attachmentKind(tt.url), tt.url)
	}
}

func TestFormatMessage(t *testing.T) {
	at := time.Date(2026, 1, 2, 9, 30, 0, 0, time.Local)
	msg := models.Message{
		ID:          "5",
		Sender:      &models.UserRef{ID: 2, DisplayName: "bob"},
		Content:     "see #12",
		CreatedAt:   at,
		Priority:    models.PriorityUrgent,
		Attachments: []models.Attachment{{URL: "https://x/a.png", Kind: models.AttachmentImage}},
		Metadata:    &models.MessageMetadata{IsForwarded: true, OriginChannelName: "ops"},
	}
	got := formatMessage(msg, []models.Task{{ID: 12, Status: models.TaskStatusTodo}})
	assert.Equal(t, "[09:30] bob: see #12 !urgent <image https://x/a.png> (forwarded from ops) [#12 todo]", got)

	msg.Sender = nil
	msg.Priority = ""
	msg.Attachments = nil
	msg.Metadata = nil
	assert.Equal(t, "[09:30] system: see #12", formatMessage(msg, nil))
}
