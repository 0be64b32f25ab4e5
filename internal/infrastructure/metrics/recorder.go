package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	"github.com/wekeepgrowing/semo-dunning/internal/usecase"
)

const namespace = "dunning"

// Recorder exports orchestration events as Prometheus metrics.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	episodesStarted    prometheus.Counter
	episodeTransitions *prometheus.CounterVec
	episodesResolved   *prometheus.CounterVec
	retryOutcomes      *prometheus.CounterVec
	effectDeliveries   *prometheus.CounterVec
	taskOutcomes       *prometheus.CounterVec
	sweepRuns          prometheus.Counter
	sweepDuration      prometheus.Histogram
	sweepOverdue       prometheus.Gauge
	sweepEffects       prometheus.Counter
	sweepEvents        prometheus.Counter
}

var _ usecase.Metrics = (*Recorder)(nil)

// NewRecorder registers the dunning metrics on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		episodesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_started_total",
			Help:      "Total number of dunning episodes opened",
		}),
		episodeTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episode_transitions_total",
			Help:      "Total number of ladder transitions by source and target state",
		}, []string{"from", "to"}),
		episodesResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_resolved_total",
			Help:      "Total number of resolved episodes by reason",
		}, []string{"reason"}),
		retryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of payment retries by outcome",
		}, []string{"outcome"}),
		effectDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effect_deliveries_total",
			Help:      "Total number of side effect deliveries by effect and result",
		}, []string{"effect", "result"}),
		taskOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_tasks_total",
			Help:      "Total number of processed retry tasks by outcome",
		}, []string{"outcome"}),
		sweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Total number of escalation sweep runs",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of escalation sweep runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		sweepOverdue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_overdue_episodes",
			Help:      "Overdue episodes found by the last sweep",
		}),
		sweepEffects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_effects_redriven_total",
			Help:      "Total number of episodes whose pending effects were re-driven by the sweep",
		}),
		sweepEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_events_redelivered_total",
			Help:      "Total number of billing events redelivered by the sweep",
		}),
	}
}

func (r *Recorder) EpisodeStarted() {
	if r == nil {
		return
	}
	r.episodesStarted.Inc()
}

func (r *Recorder) EpisodeTransitioned(from, to entity.EpisodeState) {
	if r == nil {
		return
	}
	r.episodeTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) EpisodeResolved(reason string) {
	if r == nil {
		return
	}
	r.episodesResolved.WithLabelValues(reason).Inc()
}

func (r *Recorder) RetryOutcome(outcome string) {
	if r == nil {
		return
	}
	r.retryOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) EffectDelivered(effect entity.SideEffect, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.effectDeliveries.WithLabelValues(effectLabel(effect), result).Inc()
}

func (r *Recorder) TaskOutcome(outcome string) {
	if r == nil {
		return
	}
	r.taskOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SweepCompleted(report usecase.SweepReport) {
	if r == nil {
		return
	}
	r.sweepRuns.Inc()
	r.sweepDuration.Observe(report.Duration.Seconds())
	r.sweepOverdue.Set(float64(report.Overdue))
	r.sweepEffects.Add(float64(report.EffectsRedriven))
	r.sweepEvents.Add(float64(report.EventsRedelivered))
}

// effectLabel keeps label cardinality bounded: notify effects collapse to "notify".
func effectLabel(effect entity.SideEffect) string {
	if _, ok := effect.Template(); ok {
		return "notify"
	}
	return string(effect)
}
