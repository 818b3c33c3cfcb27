package testutil

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/db"
	"github.com/tOgg1/opsdesk/internal/devserver"
)

// Backend is a reference backend on loopback listeners, seeded with
// devserver.DefaultSeed. It is torn down by t.Cleanup.
type Backend struct {
	URL      string
	PushAddr string
	DB       *db.DB
	Server   *devserver.Server
}

// StartBackend serves HTTP through httptest and the push hub on an
// ephemeral TCP port.
func StartBackend(t *testing.T) *Backend {
	t.Helper()
	SkipIfNoNetwork(t)

	ctx, cancel := context.WithCancel(context.Background())
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, devserver.DefaultSeed().Apply(ctx, database))

	srv, err := devserver.New(devserver.Options{DB: database})
	require.NoError(t, err)
	httpSrv := httptest.NewServer(srv.Router())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = srv.Hub().Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		<-hubDone
		httpSrv.Close()
		_ = database.Close()
	})
	return &Backend{URL: httpSrv.URL, PushAddr: ln.Addr().String(), DB: database, Server: srv}
}
