package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/opsdesk/internal/db"
)

const shutdownTimeout = 5 * time.Second

// Config is the listener and storage setup of a running backend.
type Config struct {
	HTTPAddr string
	PushAddr string
	DBPath   string
	SeedFile string
	Metrics  bool
}

// Run opens the database, applies the seed and serves HTTP and push
// traffic until ctx is canceled.
func Run(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	seed := DefaultSeed()
	if cfg.SeedFile != "" {
		if seed, err = LoadSeed(cfg.SeedFile); err != nil {
			return err
		}
	}
	if err := seed.Apply(ctx, database); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}

	srv, err := New(Options{DB: database, Logger: &logger, HideMetrics: !cfg.Metrics})
	if err != nil {
		return err
	}

	pushLn, err := net.Listen("tcp", cfg.PushAddr)
	if err != nil {
		return fmt.Errorf("listen push %s: %w", cfg.PushAddr, err)
	}
	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = pushLn.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	httpSrv := &http.Server{Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}

	logger.Info().
		Str("http", httpLn.Addr().String()).
		Str("push", pushLn.Addr().String()).
		Str("db", cfg.DBPath).
		Msg("reference backend listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Hub().Serve(gctx, pushLn)
	})
	g.Go(func() error {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
