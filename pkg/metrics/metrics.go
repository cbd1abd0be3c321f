// Package metrics exposes courier's Prometheus metrics.
//
// Every pipeline records what it read, what each of its sinks accepted and
// how long each interval cycle took. The collectors are registered on the
// default registry at init and served by Handler.
//
// # Basic Usage
//
//	rec := metrics.ForPipeline("api->kafka")
//	timer := metrics.NewTimer()
//	v, err := reader.Read(ctx)
//	rec.Read(err)
//	...
//	rec.Cycle(timer.Stop(), overrun)
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Label values for the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// RecordsRead counts fetches and stream items per pipeline.
	// Labels: pipeline, status (success/failure)
	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_records_read_total",
			Help: "Total number of records read from sources",
		},
		[]string{"pipeline", "status"},
	)

	// RecordsWritten counts send attempts per sink.
	// Labels: pipeline, sink, status (success/failure)
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_records_written_total",
			Help: "Total number of records sent to sinks",
		},
		[]string{"pipeline", "sink", "status"},
	)

	// CycleDuration tracks how long each interval cycle took.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "courier_cycle_duration_seconds",
			Help: "Duration of interval pipeline cycles in seconds",
			Buckets: []float64{
				0.005, // 5ms
				0.05,  // 50ms
				0.25,  // 250ms
				1,
				5,
				30,
				120,
			},
		},
		[]string{"pipeline"},
	)

	// CycleOverruns counts cycles that took longer than their period.
	CycleOverruns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_cycle_overruns_total",
			Help: "Total number of interval cycles that exceeded their period",
		},
		[]string{"pipeline"},
	)

	// RunningPipelines is the number of operations currently running.
	RunningPipelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_running_pipelines",
			Help: "Number of pipelines currently running",
		},
	)
)

// Pipeline records metrics for one named pipeline.
type Pipeline struct {
	name     string
	readOK   prometheus.Counter
	readFail prometheus.Counter
	duration prometheus.Observer
	overruns prometheus.Counter
}

// ForPipeline returns the recorder for the pipeline called name.
func ForPipeline(name string) *Pipeline {
	return &Pipeline{
		name:     name,
		readOK:   RecordsRead.WithLabelValues(name, StatusSuccess),
		readFail: RecordsRead.WithLabelValues(name, StatusFailure),
		duration: CycleDuration.WithLabelValues(name),
		overruns: CycleOverruns.WithLabelValues(name),
	}
}

// Read records the outcome of one fetch or stream item.
func (p *Pipeline) Read(err error) {
	if err != nil {
		p.readFail.Inc()
		return
	}
	p.readOK.Inc()
}

// Written records the outcome of one send to sink.
func (p *Pipeline) Written(sink string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	RecordsWritten.WithLabelValues(p.name, sink, status).Inc()
}

// Cycle records an interval cycle's duration and whether it overran.
func (p *Pipeline) Cycle(d time.Duration, overrun bool) {
	p.duration.Observe(d.Seconds())
	if overrun {
		p.overruns.Inc()
	}
}

// Timer measures elapsed wall time from its creation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the time elapsed since the timer was created.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes Handler on addr at path until ctx is done.
func Serve(ctx context.Context, addr, path string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", zap.String("address", addr), zap.String("path", path))
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
		return srv.Shutdown(shutdownCtx)
	}
}
