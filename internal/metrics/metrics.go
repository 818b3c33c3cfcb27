// Package metrics registers the prometheus counters exported by the sync
// engine and the reference backend. All methods are safe on a nil receiver.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "opsdesk"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultStale = "stale"
)

// Scope labels for push events.
const (
	ScopeActive   = "active"
	ScopeInactive = "inactive"
	ScopeGlobal   = "global"
)

// Engine holds the client-side counters.
type Engine struct {
	sends        *prometheus.CounterVec
	pushEvents   *prometheus.CounterVec
	bulkFailures prometheus.Counter
	fetches      *prometheus.CounterVec
}

// NewEngine registers the engine counters on reg. A nil reg uses a private
// registry so repeated construction in tests never collides.
func NewEngine(reg prometheus.Registerer) (*Engine, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Engine{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Optimistic sends by outcome.",
		}, []string{"result"}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push events applied, by kind and channel scope.",
		}, []string{"kind", "scope"}),
		bulkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_delete_failures_total",
			Help:      "Individual deletes that failed inside a bulk delete.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Channel history fetches on activation, by outcome.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.sends, m.pushEvents, m.bulkFailures, m.fetches} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Engine) Send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Engine) PushEvent(kind, scope string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(kind, scope).Inc()
}

func (m *Engine) BulkDeleteFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bulkFailures.Add(float64(n))
}

func (m *Engine) Fetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

// Backend holds the reference server counters.
type Backend struct {
	requests *prometheus.CounterVec
}

// NewBackend registers the backend counters on reg.
func NewBackend(reg prometheus.Registerer) (*Backend, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	b := &Backend{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "REST requests served, by route pattern and status code.",
		}, []string{"route", "code"}),
	}
	if err := reg.Register(b.requests); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) Request(route string, code int) {
	if b == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	b.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
