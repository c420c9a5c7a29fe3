// Package metrics exposes batch and ingest counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	resultRows        prometheus.Counter
	sessionReconnects prometheus.Counter
	ingestFiles       *prometheus.CounterVec
	ingestQueueDepth  prometheus.Gauge
	exchangeDuration  *prometheus.HistogramVec
}

// New registers the collectors on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	register := func(c prometheus.Collector) { registry.MustRegister(c) }

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pacsbatch_requests_total",
			Help: "Batch requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		resultRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacsbatch_result_rows_total",
			Help: "Rows appended to the result table",
		}),
		sessionReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pacsbatch_session_reconnects_total",
			Help: "Sessions re-established after the peer dropped them",
		}),
		ingestFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pacsbatch_ingest_files_total",
			Help: "Inbound files by outcome",
		}, []string{"outcome"}),
		ingestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pacsbatch_ingest_queue_depth",
			Help: "Staged files waiting for placement",
		}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pacsbatch_exchange_duration_seconds",
			Help:    "Duration of one request exchange with the peer",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"kind"}),
	}

	register(m.requests)
	register(m.resultRows)
	register(m.sessionReconnects)
	register(m.ingestFiles)
	register(m.ingestQueueDepth)
	register(m.exchangeDuration)
	register(collectors.NewGoCollector())
	register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the registry backing m
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RequestDone counts one request outcome
func (m *Metrics) RequestDone(kind string, success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "completed"
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
}

// ObserveExchange records how long one exchange took
func (m *Metrics) ObserveExchange(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchangeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ResultRow counts one result table row
func (m *Metrics) ResultRow() {
	if m == nil {
		return
	}
	m.resultRows.Inc()
}

// SessionReconnect counts one re-established session
func (m *Metrics) SessionReconnect() {
	if m == nil {
		return
	}
	m.sessionReconnects.Inc()
}

// IngestFile counts one inbound file by outcome (stored, placed, rejected, failed)
func (m *Metrics) IngestFile(outcome string) {
	if m == nil {
		return
	}
	m.ingestFiles.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the ingest queue length
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ingestQueueDepth.Set(float64(n))
}

// Server serves /metrics until Shutdown
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// Serve starts an HTTP listener on addr exposing m
func Serve(addr string, m *Metrics) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	s := &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		done:     make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return s, nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
