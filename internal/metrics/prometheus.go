package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	batchesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ritstream_batches_published_total",
		Help: "Total number of envelopes published",
	})

	rowsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ritstream_rows_published_total",
		Help: "Total number of rows published",
	})

	payloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ritstream_payload_bytes_total",
		Help: "Total encoded bytes handed to the broker",
	})

	publishSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ritstream_publish_seconds",
		Help:    "Time spent encoding and publishing one envelope",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	serializeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ritstream_serialize_seconds",
		Help:    "Time spent encoding one envelope",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	runFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ritstream_run_failures_total",
		Help: "Runs that ended in a fatal error, by error kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(batchesPublished, rowsPublished, payloadBytes, publishSeconds, serializeSeconds, runFailures)
}

// PrometheusObserver exports per-batch measurements.
type PrometheusObserver struct{}

func (PrometheusObserver) ObserveBatch(rows, payloadSize int, elapsed, serialization time.Duration) {
	batchesPublished.Inc()
	rowsPublished.Add(float64(rows))
	payloadBytes.Add(float64(payloadSize))
	publishSeconds.Observe(elapsed.Seconds())
	serializeSeconds.Observe(serialization.Seconds())
}

func (PrometheusObserver) ObserveFailure(kind string) {
	runFailures.WithLabelValues(kind).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		logger.Info().Msg("Metrics endpoint stopped")
		return nil
	}
}
