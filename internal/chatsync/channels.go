package chatsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
)

// RefreshChannels replaces the channel list from the server. Channel
// lifecycle push events only ever trigger this; they are never applied as
// deltas. On failure the cached list stays.
func (e *Engine) RefreshChannels(ctx context.Context) error {
	list, err := e.api.ListChannels(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("channel list refresh failed; keeping cached list")
		return fmt.Errorf("refresh channels: %w", err)
	}
	e.store.SetChannels(ctx, list)
	return nil
}

func (e *Engine) refreshQuietly(ctx context.Context) {
	_ = e.RefreshChannels(ctx)
}

// Channels returns the visible channels in display order: the persisted
// order first, then unordered channels by name.
func (e *Engine) Channels() []models.Channel {
	return orderChannels(e.store.Channels(), e.prefs.ChannelOrder())
}

// ReorderChannels persists a new display order.
func (e *Engine) ReorderChannels(ctx context.Context, ids []int64) {
	e.prefs.SetChannelOrder(ids)
	e.publish(ctx, &events.Notification{Kind: events.KindChannelsChanged})
}

func orderChannels(channels []models.Channel, order []int64) []models.Channel {
	rank := make(map[int64]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	sort.SliceStable(channels, func(i, j int) bool {
		ri, iok := rank[channels[i].ID]
		rj, jok := rank[channels[j].ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		ni := strings.ToLower(channels[i].DisplayName())
		nj := strings.ToLower(channels[j].DisplayName())
		if ni != nj {
			return ni < nj
		}
		return channels[i].ID < channels[j].ID
	})
	return channels
}
