// Package metrics tracks what a benchmark run sends and receives, both at the
// kgo client level (through kprom) and at the level of input messages and
// output acknowledgements.
//
// Metrics can be scraped at /metrics while a run is in progress; see Serve.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
)

const namespace = "eosbench"

var ( // interface checks to ensure we implement the hooks properly
	_ kgo.HookProduceRecordUnbuffered = new(Metrics)
	_ kgo.HookFetchRecordUnbuffered   = new(Metrics)
)

// Metrics holds every collector of a run.
type Metrics struct {
	reg *prometheus.Registry

	mu      sync.Mutex
	clients map[string]*kprom.Metrics

	produced   *prometheus.CounterVec
	acks       *prometheus.CounterVec
	roundTrips prometheus.Histogram
}

// New returns Metrics registered to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		reg:     reg,
		clients: make(map[string]*kprom.Metrics),

		produced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "produced_total",
			Help:      "Total number of input records acknowledged by the broker, by outcome",
		}, []string{"topic", "outcome"}),

		acks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Total number of output records polled from the output topic",
		}, []string{"topic"}),

		roundTrips: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Time from producing an input record until its output was observed (serial mode only)",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}
}

// Hooks returns the hooks to install in the kgo client called name.
//
// kprom registers per client gauges when a client is created, so each client
// gets its own kprom collectors, distinguished by a "client" label. A name
// must not be shared by two live clients.
func (m *Metrics) Hooks(name string) []kgo.Hook {
	m.mu.Lock()
	defer m.mu.Unlock()
	km, ok := m.clients[name]
	if !ok {
		wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"client": name}, m.reg)
		km = kprom.NewMetrics(namespace, kprom.Registerer(wrapped))
		m.clients[name] = km
	}
	return []kgo.Hook{km, m}
}

// OnProduceRecordUnbuffered counts input records once the broker has
// answered for them.
func (m *Metrics) OnProduceRecordUnbuffered(r *kgo.Record, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.produced.WithLabelValues(r.Topic, outcome).Inc()
}

// OnFetchRecordUnbuffered counts output records as they are polled.
func (m *Metrics) OnFetchRecordUnbuffered(r *kgo.Record, polled bool) {
	if polled {
		m.acks.WithLabelValues(r.Topic).Inc()
	}
}

// ObserveRoundTrip records the produce to ack time of one message.
func (m *Metrics) ObserveRoundTrip(d time.Duration) {
	m.roundTrips.Observe(d.Seconds())
}

// Registry returns the registry that every collector is registered to.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns an http.Handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve serves /metrics on addr until ctx is done. The listener is bound
// before Serve returns so that a bad address fails the run immediately.
func (m *Metrics) Serve(ctx context.Context, addr string, zl *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		zl.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}
