package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "nvprime"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	applies          *prom.CounterVec
	applyDuration    prom.Histogram
	restores         *prom.CounterVec
	softFailures     *prom.CounterVec
	watchdogsStarted prom.Counter
	activePIDs       prom.Gauge
}

// NewPrometheusRecorder constructs and registers the daemon metrics on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.applies = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "apply_total",
			Help:      "ApplyTuning calls by result",
		}, []string{"result"})
		pr.applyDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying tuning, including hardware calls",
			Buckets:   prom.DefBuckets,
		})
		pr.restores = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "restore_total",
			Help:      "Restore passes by trigger and result",
		}, []string{"trigger", "result"})
		pr.softFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "soft_adapter_failures_total",
			Help:      "Adapter failures that were logged and ignored",
		}, []string{"adapter"})
		pr.watchdogsStarted = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watchdogs_started_total",
			Help:      "Process liveness monitors started",
		})
		pr.activePIDs = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_pids",
			Help:      "Processes currently holding tuning",
		})
		reg.MustRegister(pr.applies, pr.applyDuration, pr.restores, pr.softFailures, pr.watchdogsStarted, pr.activePIDs)
	})
	return pr
}

func (p *PrometheusRecorder) IncApply(result ResultLabel) {
	if p == nil || p.applies == nil {
		return
	}
	p.applies.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveApplyDuration(d time.Duration) {
	if p == nil || p.applyDuration == nil {
		return
	}
	p.applyDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRestore(trigger Trigger, result ResultLabel) {
	if p == nil || p.restores == nil {
		return
	}
	p.restores.WithLabelValues(string(trigger), string(result)).Inc()
}

func (p *PrometheusRecorder) IncSoftFailure(adapter string) {
	if p == nil || p.softFailures == nil {
		return
	}
	p.softFailures.WithLabelValues(adapter).Inc()
}

func (p *PrometheusRecorder) IncWatchdogStarted() {
	if p == nil || p.watchdogsStarted == nil {
		return
	}
	p.watchdogsStarted.Inc()
}

func (p *PrometheusRecorder) SetActivePIDs(n int) {
	if p == nil || p.activePIDs == nil {
		return
	}
	p.activePIDs.Set(float64(n))
}
