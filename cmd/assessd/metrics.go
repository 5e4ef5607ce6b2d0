package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operational metrics for the assessd process. Domain metrics flow through
// the OpenTelemetry registry; these cover the process itself.

var (
	cleanupEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cae",
			Subsystem: "registry",
			Name:      "evictions_total",
			Help:      "Terminal assessment runs evicted from the in-memory registry",
		},
	)

	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "connections",
			Help:      "Current number of connections in the pool",
		},
		[]string{"state"},
	)

	dbConnectionPoolMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "max_conns",
			Help:      "Maximum number of connections in the pool",
		},
	)
)

// operationalHandler serves /metrics and /healthz.
func operationalHandler(pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func recordCleanup(evicted int) {
	if evicted > 0 {
		cleanupEvictions.Add(float64(evicted))
	}
}

func updatePoolMetrics(pool *pgxpool.Pool) {
	stats := pool.Stat()
	dbConnectionPoolSize.WithLabelValues("active").Set(float64(stats.AcquiredConns()))
	dbConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.IdleConns()))
	dbConnectionPoolSize.WithLabelValues("total").Set(float64(stats.TotalConns()))
	dbConnectionPoolMax.Set(float64(stats.MaxConns()))
}
