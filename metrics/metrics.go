package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/awjans/primarykey/catalog"
	"github.com/awjans/primarykey/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
)

// Metrics exposes the batches of a running benchmark. It implements worker.Observer.
type Metrics struct {
	BatchDuration *prometheus.HistogramVec
	BatchesTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pkbench_batch_duration_seconds",
				Help:    "Duration of a statement batch, result consumption included",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"key_type", "operation", "batch_size"},
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pkbench_batches_total",
				Help: "Total number of measured batches",
			},
			[]string{"key_type", "operation"},
		),

		registry: registry,
	}
}

func (m *Metrics) ObserveBatch(keyType catalog.KeyType, r worker.Record) {
	m.BatchDuration.WithLabelValues(keyType.String(), r.Operation.String(), strconv.Itoa(r.BatchSize)).
		Observe(r.Duration.Seconds())
	m.BatchesTotal.WithLabelValues(keyType.String(), r.Operation.String()).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
}
