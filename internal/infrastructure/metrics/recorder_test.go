package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	"github.com/wekeepgrowing/semo-dunning/internal/usecase"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.EpisodeStarted()
	r.EpisodeStarted()
	r.EpisodeTransitioned(entity.StateRetrying, entity.StateWarningSent)
	r.EpisodeResolved("payment_succeeded")
	r.RetryOutcome(usecase.OutcomeDeclined)
	r.RetryOutcome(usecase.OutcomeDeclined)
	r.RetryOutcome(usecase.OutcomeTransient)
	r.EffectDelivered(entity.NotifyEffect(entity.TemplatePaymentFailedWarning), nil)
	r.EffectDelivered(entity.NotifyEffect(entity.TemplatePaymentFinalWarning), nil)
	r.EffectDelivered(entity.EffectSuspend, errors.New("unavailable"))
	r.TaskOutcome(usecase.TaskRescheduled)
	r.SweepCompleted(usecase.SweepReport{Duration: 2 * time.Second, Overdue: 7, EffectsRedriven: 2, EventsRedelivered: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.episodesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.episodeTransitions.WithLabelValues("RETRYING", "WARNING_SENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.episodesResolved.WithLabelValues("payment_succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retryOutcomes.WithLabelValues(usecase.OutcomeDeclined)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retryOutcomes.WithLabelValues(usecase.OutcomeTransient)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.effectDeliveries.WithLabelValues("notify", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.effectDeliveries.WithLabelValues("suspend", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.taskOutcomes.WithLabelValues(usecase.TaskRescheduled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepRuns))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.sweepOverdue))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sweepEffects))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepEvents))

	// One series per label combination; notify templates share a series
	assert.Equal(t, 2, testutil.CollectAndCount(r.effectDeliveries))

	count, err := testutil.GatherAndCount(reg, "dunning_sweep_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.EpisodeStarted()
		r.EpisodeTransitioned(entity.StateRetrying, entity.StateSuspended)
		r.EpisodeResolved("manual")
		r.RetryOutcome(usecase.OutcomeSkipped)
		r.EffectDelivered(entity.EffectReactivate, nil)
		r.TaskOutcome(usecase.TaskDead)
		r.SweepCompleted(usecase.SweepReport{})
	})
}

func TestNewRecorder_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) })
}
