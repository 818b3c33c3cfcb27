package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngine_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewEngine(reg)
	require.NoError(t, err)

	m.Send(ResultOK)
	m.Send(ResultOK)
	m.Send(ResultError)
	m.PushEvent("message", ScopeInactive)
	m.BulkDeleteFailures(2)
	m.BulkDeleteFailures(0)
	m.Fetch(ResultStale)

	require.Equal(t, 2.0, testutil.ToFloat64(m.sends.WithLabelValues(ResultOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues(ResultError)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pushEvents.WithLabelValues("message", ScopeInactive)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.bulkFailures))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues(ResultStale)))

	_, err = NewEngine(reg)
	require.Error(t, err, "duplicate registration")
}

func TestNilReceiversAreNoops(t *testing.T) {
	var m *Engine
	m.Send(ResultOK)
	m.PushEvent("typing", ScopeGlobal)
	m.BulkDeleteFailures(1)
	m.Fetch(ResultOK)

	var b *Backend
	b.Request("/channels", 200)
}

func TestBackend_Request(t *testing.T) {
	b, err := NewBackend(nil)
	require.NoError(t, err)

	b.Request("/channels/{id}/messages", 201)
	b.Request("", 404)

	require.Equal(t, 1.0, testutil.ToFloat64(b.requests.WithLabelValues("/channels/{id}/messages", "201")))
	require.Equal(t, 1.0, testutil.ToFloat64(b.requests.WithLabelValues("unmatched", "404")))
}
