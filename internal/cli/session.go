package cli

import (
	"context"
	"fmt"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/chatsync"
	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/metrics"
	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/prefs"
	"github.com/tOgg1/opsdesk/internal/tasks"
	"github.com/tOgg1/opsdesk/internal/transport"
)

// session is one configured engine plus the collaborators the commands
// talk to directly.
type session struct {
	engine    *chatsync.Engine
	api       *api.HTTPClient
	push      *transport.Client
	prefs     *prefs.Manager
	tasks     *tasks.Mirror
	publisher *events.InMemoryPublisher
}

// openSession wires an engine from the loaded config. The push transport
// is only built when withPush is set.
func (a *app) openSession(withPush bool) (*session, error) {
	cfg := a.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	client, err := api.NewHTTPClient(api.HTTPConfig{
		BaseURL: cfg.API.BaseURL,
		UserID:  cfg.Session.UserID,
		Timeout: cfg.API.Timeout,
	})
	if err != nil {
		return nil, err
	}

	s := &session{
		api:       client,
		prefs:     prefs.New(cfg.Prefs.Path),
		tasks:     tasks.NewMirror(client),
		publisher: events.NewInMemoryPublisher(),
	}
	if err := s.prefs.Load(); err != nil {
		a.logger.Warn().Err(err).Str("path", cfg.Prefs.Path).Msg("prefs unreadable; starting empty")
	}

	var typing chatsync.TypingSender
	if withPush {
		s.push, err = transport.New(transport.Config{
			Addr:              cfg.Push.Addr,
			UserID:            cfg.Session.UserID,
			DialTimeout:       cfg.Push.DialTimeout,
			ReconnectInterval: cfg.Push.ReconnectInterval,
			Buffer:            cfg.Push.Buffer,
		})
		if err != nil {
			return nil, err
		}
		typing = s.push
	}

	engineMetrics, err := metrics.NewEngine(nil)
	if err != nil {
		return nil, fmt.Errorf("engine metrics: %w", err)
	}

	s.engine = chatsync.New(chatsync.Options{
		API:              client,
		Self:             models.UserRef{ID: cfg.Session.UserID, DisplayName: cfg.Session.DisplayName},
		Tasks:            s.tasks,
		Prefs:            s.prefs,
		Transport:        typing,
		Publisher:        s.publisher,
		Metrics:          engineMetrics,
		DefaultChannelID: cfg.Session.DefaultChannelID,
		HistoryLimit:     cfg.Sync.HistoryLimit,
		BulkConcurrency:  cfg.Sync.BulkConcurrency,
		TypingDebounce:   cfg.Typing.Debounce,
		TypingExpiry:     cfg.Typing.Expiry,
	})
	return s, nil
}

// run consumes the push stream in the background until ctx is done.
func (s *session) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if s.push == nil {
		close(done)
		return done
	}
	go func() {
		done <- s.engine.Run(ctx, s.push.Subscribe(ctx))
	}()
	return done
}

func (s *session) Close() error {
	s.publisher.Close()
	return s.prefs.Close()
}
