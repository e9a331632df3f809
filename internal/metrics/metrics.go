// Package metrics exposes the daemon's operational counters on a local
// Prometheus endpoint. The endpoint is off by default; every recording
// method tolerates a nil receiver so callers never guard.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every collector the daemon records into.
type Set struct {
	ticks       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	fetchFails  *prometheus.CounterVec
	ipcClients  prometheus.Gauge
}

// New registers the daemon's collectors on the default registry.
func New() *Set {
	return &Set{
		ticks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matchscope_ticks_total",
			Help: "Session loop ticks, by the state they ran in.",
		}, []string{"state"}),
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matchscope_state_transitions_total",
			Help: "Session state transitions, by destination state.",
		}, []string{"to"}),
		published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matchscope_snapshots_published_total",
			Help: "Snapshots forwarded to the sink, by state.",
		}, []string{"state"}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "matchscope_snapshots_dropped_total",
			Help: "Snapshots suppressed by the de-duplication rules.",
		}),
		fetchFails: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "matchscope_fetch_failures_total",
			Help: "Failed collaborator calls, by kind.",
		}, []string{"kind"}),
		ipcClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matchscope_ipc_clients",
			Help: "Currently connected IPC subscribers.",
		}),
	}
}

// Tick records one loop tick in the named state.
func (s *Set) Tick(state string) {
	if s == nil {
		return
	}
	s.ticks.WithLabelValues(state).Inc()
}

// Transition records a state change.
func (s *Set) Transition(to string) {
	if s == nil {
		return
	}
	s.transitions.WithLabelValues(to).Inc()
}

// SnapshotPublished records a snapshot forwarded to the sink.
func (s *Set) SnapshotPublished(state string) {
	if s == nil {
		return
	}
	s.published.WithLabelValues(state).Inc()
}

// SnapshotDropped records a snapshot suppressed by de-duplication.
func (s *Set) SnapshotDropped() {
	if s == nil {
		return
	}
	s.dropped.Inc()
}

// FetchFailure records a failed collaborator call of the given kind
// ("presence", "probe", "roster", "standing", "names").
func (s *Set) FetchFailure(kind string) {
	if s == nil {
		return
	}
	s.fetchFails.WithLabelValues(kind).Inc()
}

// IPCClients tracks the connected subscriber count.
func (s *Set) IPCClients(n int) {
	if s == nil {
		return
	}
	s.ipcClients.Set(float64(n))
}

// Serve runs the metrics HTTP listener on addr until ctx ends. It blocks;
// callers run it in a goroutine.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listener started", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
