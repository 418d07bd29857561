// Package metrics records tool call outcomes in Prometheus and optionally
// serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the taskmem collectors. A nil *Recorder is a valid no-op.
type Recorder struct {
	registry *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolTokens   *prometheus.HistogramVec
	lockTimeouts prometheus.Counter
}

// New registers the collectors on a dedicated registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskmem",
			Name:      "tool_calls_total",
			Help:      "Tool calls, partitioned by tool and result code (ok on success).",
		}, []string{"tool", "code"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskmem",
			Name:      "tool_duration_seconds",
			Help:      "Tool call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		toolTokens: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskmem",
			Name:      "response_tokens",
			Help:      "Estimated tokens per shaped response.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}, []string{"tool"}),
		lockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskmem",
			Name:      "lock_timeouts_total",
			Help:      "Operations that gave up waiting for a database lock.",
		}),
	}
}

// Registry exposes the underlying registry for scraping and tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveCall records one tool call. code is "ok" or an error code.
func (r *Recorder) ObserveCall(tool, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(tool, code).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveTokens records the estimated size of a shaped response.
func (r *Recorder) ObserveTokens(tool string, tokens int) {
	if r == nil {
		return
	}
	r.toolTokens.WithLabelValues(tool).Observe(float64(tokens))
}

// LockTimeout counts one LOCK_TIMEOUT failure.
func (r *Recorder) LockTimeout() {
	if r == nil {
		return
	}
	r.lockTimeouts.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
