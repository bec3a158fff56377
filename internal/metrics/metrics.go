package metrics

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WakeDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "athena_wake_detections_total",
		Help: "Wake phrases heard",
	})

	Transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_transcriptions_total",
		Help: "Speech segments sent to the transcriber, by outcome",
	}, []string{"outcome"})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_dispatches_total",
		Help: "Commands dispatched, by action and outcome",
	}, []string{"action", "outcome"})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "athena_dispatch_latency_seconds",
		Help:    "Time from command to end of dispatch",
		Buckets: prometheus.DefBuckets,
	})

	Utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "athena_utterances_total",
		Help: "Utterances spoken by the voice channel, by status",
	}, []string{"status"})
)

// ObserveUtterance matches voice.WithObserver.
func ObserveUtterance(_ string, err error) {
	if err != nil {
		Utterances.WithLabelValues("error").Inc()
		return
	}
	Utterances.WithLabelValues("ok").Inc()
}

// Serve exposes /metrics until ctx is done. An empty addr disables it.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "err", err)
		}
	}()
}
