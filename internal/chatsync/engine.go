// Package chatsync keeps the client-side chat state consistent across
// optimistic local writes, REST responses and push events.
//
// Every inbound path funnels into the store's upsert-by-id primitives, so
// callbacks may interleave in any order and still converge on one entry per
// message id.
package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/logging"
	"github.com/tOgg1/opsdesk/internal/metrics"
	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/notify"
	"github.com/tOgg1/opsdesk/internal/prefs"
	"github.com/tOgg1/opsdesk/internal/selection"
	"github.com/tOgg1/opsdesk/internal/store"
	"github.com/tOgg1/opsdesk/internal/tasks"
	"github.com/tOgg1/opsdesk/internal/typing"
)

const (
	DefaultHistoryLimit    = 200
	DefaultBulkConcurrency = 8
)

// TypingSender emits outbound typing signals over the push transport.
type TypingSender interface {
	SendTyping(ctx context.Context, channelID int64) error
}

// Options wires an Engine. API and Self are required; nil collaborators
// are replaced by in-memory defaults sharing Publisher.
type Options struct {
	API       api.Client
	Self      models.UserRef
	Store     *store.Store
	Counters  *notify.Aggregator
	Selection *selection.Set
	Tasks     *tasks.Mirror
	Prefs     *prefs.Manager
	Transport TypingSender
	Publisher events.Publisher
	Metrics   *metrics.Engine
	Logger    *zerolog.Logger
	IDs       *ProvisionalIDs

	// DefaultChannelID is the fallback after access to the active channel
	// is revoked.
	DefaultChannelID int64
	HistoryLimit     int
	BulkConcurrency  int
	TypingDebounce   time.Duration
	TypingExpiry     time.Duration

	Now func() time.Time
}

// Engine is the sync core. All methods are safe for concurrent use.
type Engine struct {
	api       api.Client
	self      models.UserRef
	store     *store.Store
	counters  *notify.Aggregator
	selection *selection.Set
	tasks     *tasks.Mirror
	prefs     *prefs.Manager
	transport TypingSender
	publisher events.Publisher
	metrics   *metrics.Engine
	logger    zerolog.Logger
	ids       *ProvisionalIDs
	debouncer *typing.Debouncer
	typers    *typing.Board

	defaultChannelID int64
	historyLimit     int
	bulkConcurrency  int
	now              func() time.Time

	mu         sync.Mutex
	activation activation
	presence   map[int64]bool
}

// New builds an engine.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger := logging.Component("chatsync")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logging.WithUser(logger, opts.Self.ID)

	e := &Engine{
		api:              opts.API,
		self:             opts.Self,
		store:            opts.Store,
		counters:         opts.Counters,
		selection:        opts.Selection,
		tasks:            opts.Tasks,
		prefs:            opts.Prefs,
		transport:        opts.Transport,
		publisher:        publisher,
		metrics:          opts.Metrics,
		logger:           logger,
		ids:              opts.IDs,
		debouncer:        typing.NewDebouncer(opts.TypingDebounce, now),
		typers:           typing.NewBoard(opts.TypingExpiry, now),
		defaultChannelID: opts.DefaultChannelID,
		historyLimit:     opts.HistoryLimit,
		bulkConcurrency:  opts.BulkConcurrency,
		now:              now,
		presence:         make(map[int64]bool),
	}
	if e.store == nil {
		e.store = store.New(store.WithPublisher(publisher))
	}
	if e.counters == nil {
		e.counters = notify.NewAggregator(opts.Self, notify.WithPublisher(publisher))
	}
	if e.selection == nil {
		e.selection = selection.New(publisher)
	}
	if e.tasks == nil {
		e.tasks = tasks.NewMirror(nil)
	}
	if e.prefs == nil {
		e.prefs = prefs.New("")
	}
	if e.ids == nil {
		e.ids = NewProvisionalIDs()
	}
	if e.historyLimit <= 0 {
		e.historyLimit = DefaultHistoryLimit
	}
	if e.bulkConcurrency <= 0 {
		e.bulkConcurrency = DefaultBulkConcurrency
	}
	return e
}

// Self returns the local user.
func (e *Engine) Self() models.UserRef { return e.self }

// Store exposes the entity store for read access.
func (e *Engine) Store() *store.Store { return e.store }

// Messages returns the channel's log in createdAt order.
func (e *Engine) Messages(channelID int64) []models.Message {
	return e.store.Messages(channelID)
}

// Unread returns the unread counter for channelID.
func (e *Engine) Unread(channelID int64) int { return e.counters.Unread(channelID) }

// Mentions returns the mention counter for channelID.
func (e *Engine) Mentions(channelID int64) int { return e.counters.Mentions(channelID) }

// Counts returns all non-zero counters.
func (e *Engine) Counts() map[int64]notify.Counts { return e.counters.Snapshot() }

// TaskLinks resolves the mirrored tasks a message refers to.
func (e *Engine) TaskLinks(msg models.Message) []models.Task {
	return e.tasks.Links(msg)
}

// Bootstrap loads the task mirror and channel list, then activates the
// last used channel, falling back to the default channel and then to the
// first listed channel. It returns nil if there is nothing to activate.
func (e *Engine) Bootstrap(ctx context.Context) (*Activation, error) {
	if err := e.tasks.Refresh(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("task mirror refresh failed")
	}
	if err := e.RefreshChannels(ctx); err != nil {
		return nil, err
	}

	candidates := []int64{e.prefs.LastChannelID(), e.defaultChannelID}
	for _, id := range candidates {
		if _, ok := e.store.Channel(id); ok {
			return e.Switch(ctx, id)
		}
	}
	if channels := e.Channels(); len(channels) > 0 {
		return e.Switch(ctx, channels[0].ID)
	}
	return nil, nil
}

// Run applies push events until the stream closes or ctx is done.
func (e *Engine) Run(ctx context.Context, stream <-chan models.PushEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			e.ApplyEvent(ctx, ev)
		}
	}
}

func (e *Engine) publish(ctx context.Context, n *events.Notification) {
	e.publisher.Publish(ctx, n)
}
