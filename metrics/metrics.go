// Package metrics exposes Prometheus counters for the provisioning flow and
// serves them on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the Prometheus registry on its own address so the
// metrics port can stay off the public listener.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	ChallengesIssued     prometheus.Counter
	Verifications        *prometheus.CounterVec
	ProvisioningOutcomes *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
}

// New creates a metrics server with the flow counters registered under the
// given namespace.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &MetricsServer{
		registry: registry,
		ChallengesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_issued_total",
			Help:      "Number of signing challenges issued.",
		}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Number of signature verification attempts by result.",
		}, []string{"result"}),
		ProvisioningOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_outcomes_total",
			Help:      "Number of finished provisioning runs by backend source and status.",
		}, []string{"source", "status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently held in the session table.",
		}),
	}
	registry.MustRegister(m.ChallengesIssued, m.Verifications, m.ProvisioningOutcomes, m.ActiveSessions)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	m.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return m, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
