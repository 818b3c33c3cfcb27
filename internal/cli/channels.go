package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tOgg1/opsdesk/internal/models"
)

type channelRow struct {
	ID       int64              `json:"id"`
	Name     string             `json:"name"`
	Kind     models.ChannelKind `json:"kind"`
	Members  int                `json:"members"`
	Messages int                `json:"messages"`
	LastAt   *time.Time         `json:"lastAt,omitempty"`
	Unread   int                `json:"unread"`
	Mentions int                `json:"mentions"`
}

func newChannelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channels",
		Aliases: []string{"ls"},
		Short:   "List channels in display order with unread counters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChannels(cmd)
		},
	}
	cmd.Flags().Duration("listen", 0, "follow the push stream this long before printing counters")
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func (a *app) runChannels(cmd *cobra.Command) error {
	listen, _ := cmd.Flags().GetDuration("listen")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, err := a.openSession(listen > 0)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if listen > 0 {
		listenCtx, cancel := context.WithTimeout(ctx, listen)
		done := s.run(listenCtx)
		<-listenCtx.Done()
		cancel()
		if err := <-done; err != nil && ctx.Err() == nil {
			return err
		}
	}
	if err := s.engine.RefreshChannels(ctx); err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	rows := make([]channelRow, 0)
	for _, ch := range s.engine.Channels() {
		row := channelRow{
			ID:       ch.ID,
			Name:     ch.DisplayName(),
			Kind:     ch.Kind,
			Members:  len(ch.MemberIDs),
			Unread:   s.engine.Unread(ch.ID),
			Mentions: s.engine.Mentions(ch.ID),
		}
		msgs, err := s.api.ListMessages(ctx, ch.ID, a.cfg.Sync.HistoryLimit)
		if err != nil {
			a.logger.Warn().Err(err).Int64("channel_id", ch.ID).Msg("history unavailable")
		} else if len(msgs) > 0 {
			row.Messages = len(msgs)
			last := msgs[len(msgs)-1].CreatedAt
			row.LastAt = &last
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		payload, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("encode channels: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return nil
	}

	tbl := newTable(
		column{header: "ID", right: true},
		column{header: "NAME", maxWidth: 32},
		column{header: "KIND"},
		column{header: "MEMBERS", right: true},
		column{header: "MESSAGES", right: true},
		column{header: "LAST"},
		column{header: "UNREAD", right: true},
		column{header: "MENTIONS", right: true},
	)
	for _, row := range rows {
		last := "-"
		if row.LastAt != nil {
			last = humanize.Time(*row.LastAt)
		}
		tbl.add(
			strconv.FormatInt(row.ID, 10),
			row.Name,
			string(row.Kind),
			strconv.Itoa(row.Members),
			humanize.Comma(int64(row.Messages)),
			last,
			strconv.Itoa(row.Unread),
			strconv.Itoa(row.Mentions),
		)
	}
	return tbl.write(cmd.OutOrStdout())
}
