// Package metrics exposes frame-loop and hot-reload instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ReloadOK     = "ok"
	ReloadFailed = "failed"
)

// Metrics is safe to use as a nil pointer, in which case nothing is
// recorded.
type Metrics struct {
	frames       prometheus.Counter
	frameSeconds prometheus.Histogram
	fenceSeconds prometheus.Histogram
	reloads      *prometheus.CounterVec
	programs     prometheus.Gauge
}

// New registers the kiyo collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		frames: f.NewCounter(prometheus.CounterOpts{
			Name: "kiyo_frames_total",
			Help: "Frames submitted for presentation",
		}),
		frameSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiyo_frame_seconds",
			Help:    "CPU time spent in one draw_frame call",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		fenceSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiyo_fence_wait_seconds",
			Help:    "Time blocked on a frame slot's completion fence",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiyo_program_reloads_total",
			Help: "Program hot-reloads by result",
		}, []string{"result"}),
		programs: f.NewGauge(prometheus.GaugeOpts{
			Name: "kiyo_programs",
			Help: "Programs registered in the program store",
		}),
	}
}

func (m *Metrics) ObserveFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.frames.Inc()
	m.frameSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObserveFenceWait(d time.Duration) {
	if m == nil {
		return
	}
	m.fenceSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObserveReload(result string) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPrograms(n int) {
	if m == nil {
		return
	}
	m.programs.Set(float64(n))
}
