package usecase

import "github.com/wekeepgrowing/semo-dunning/internal/domain/entity"

// Metrics receives orchestration events. The Prometheus recorder implements it.
type Metrics interface {
	EpisodeStarted()
	EpisodeTransitioned(from, to entity.EpisodeState)
	EpisodeResolved(reason string)
	RetryOutcome(outcome string)
	EffectDelivered(effect entity.SideEffect, err error)
	TaskOutcome(outcome string)
	SweepCompleted(report SweepReport)
}

type noopMetrics struct{}

func (noopMetrics) EpisodeStarted()                                  {}
func (noopMetrics) EpisodeTransitioned(from, to entity.EpisodeState) {}
func (noopMetrics) EpisodeResolved(reason string)                    {}
func (noopMetrics) RetryOutcome(outcome string)                      {}
func (noopMetrics) EffectDelivered(entity.SideEffect, error)         {}
func (noopMetrics) TaskOutcome(outcome string)                       {}
func (noopMetrics) SweepCompleted(SweepReport)                       {}

// Retry outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeDeclined  = "declined"
	OutcomeTransient = "transient"
	OutcomeSkipped   = "skipped"
)

// Task outcomes.
const (
	TaskCompleted   = "completed"
	TaskRescheduled = "rescheduled"
	TaskDead        = "dead"
)
