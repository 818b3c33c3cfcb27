package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/opsdesk/internal/chatsync"
	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

const watchBuffer = 64

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <channel-id>",
		Short: "Follow a channel live",
		Long:  "watch activates a channel, prints its history and follows the push stream until interrupted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args[0])
		},
	}
	cmd.Flags().Bool("input", false, "send each stdin line to the watched channel")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, raw string) error {
	channelID, err := parseChannelID(raw)
	if err != nil {
		return err
	}
	withInput, _ := cmd.Flags().GetBool("input")

	s, err := a.openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handlers run on the publishing goroutine; engine state is read from
	// the loop below only.
	notes := make(chan events.Notification, watchBuffer)
	unsubscribe, err := s.publisher.SubscribeFunc(events.Filter{Kinds: []events.Kind{
		events.KindMessagesChanged,
		events.KindCountersChanged,
		events.KindForcedNavigation,
		events.KindSendFailed,
	}}, func(n *events.Notification) {
		select {
		case notes <- *n:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	if err := s.tasks.Refresh(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("task mirror refresh failed")
	}
	if err := s.engine.RefreshChannels(ctx); err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	act, err := s.engine.Switch(ctx, channelID)
	if err != nil {
		return err
	}
	if err := act.Wait(ctx); err != nil {
		return fmt.Errorf("load channel %d: %w", channelID, err)
	}

	out := cmd.OutOrStdout()
	w := &watcher{engine: s.engine, out: out, printed: make(map[models.MessageID]bool)}
	w.flush(channelID)

	done := s.run(ctx)
	if withInput {
		go a.pumpInput(ctx, s.engine, cmd.InOrStdin())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		case n := <-notes:
			active := s.engine.ActiveChannelID()
			switch n.Kind {
			case events.KindMessagesChanged:
				if n.ChannelID == active {
					w.flush(active)
				}
			case events.KindCountersChanged:
				if n.ChannelID != active {
					fmt.Fprintf(out, "  #%d unread=%d mentions=%d\n", n.ChannelID, s.engine.Unread(n.ChannelID), s.engine.Mentions(n.ChannelID))
				}
			case events.KindForcedNavigation:
				fmt.Fprintf(out, "-- access lost; now in channel %d\n", n.ChannelID)
				w.printed = make(map[models.MessageID]bool)
			case events.KindSendFailed:
				fmt.Fprintf(out, "-- send failed: %v\n", n.Err)
			}
		}
	}
}

type watcher struct {
	engine  *chatsync.Engine
	out     io.Writer
	printed map[models.MessageID]bool
}

// flush prints confirmed messages of channelID not printed yet.
func (w *watcher) flush(channelID int64) {
	for _, msg := range w.engine.Messages(channelID) {
		if msg.ID.IsProvisional() || w.printed[msg.ID] {
			continue
		}
		w.printed[msg.ID] = true
		fmt.Fprintln(w.out, formatMessage(msg, w.engine.TaskLinks(msg)))
	}
}

// pumpInput sends each non-empty line to whichever channel is active.
func (a *app) pumpInput(ctx context.Context, engine *chatsync.Engine, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		channelID := engine.ActiveChannelID()
		if channelID == 0 {
			continue
		}
		engine.NotifyTyping(ctx, channelID)
		if _, err := engine.Send(ctx, chatsync.SendRequest{ChannelID: channelID, Content: line}); err != nil {
			a.logger.Warn().Err(err).Int64("channel_id", channelID).Msg("send failed")
		}
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn().Err(err).Msg("read input")
	}
}

func formatMessage(msg models.Message, links []models.Task) string {
	sender := "system"
	if msg.Sender != nil {
		sender = msg.Sender.DisplayName
		if sender == "" {
			sender = "user" + strconv.FormatInt(msg.Sender.ID, 10)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", msg.CreatedAt.Local().Format("15:04"), sender, msg.Content)
	if msg.Priority != "" && msg.Priority != models.PriorityNormal {
		fmt.Fprintf(&b, " !%s", msg.Priority)
	}
	for _, att := range msg.Attachments {
		fmt.Fprintf(&b, " <%s %s>", att.Kind, att.URL)
	}
	if msg.IsForwarded() {
		fmt.Fprintf(&b, " (forwarded from %s)", msg.Metadata.OriginChannelName)
	}
	if msg.EditedAt != nil {
		b.WriteString(" (edited)")
	}
	for _, task := range links {
		fmt.Fprintf(&b, " [#%d %s]", task.ID, task.Status)
	}
	return b.String()
}

func parseChannelID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid channel id %q", raw)
	}
	return id, nil
}

