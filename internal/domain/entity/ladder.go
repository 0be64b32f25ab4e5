package entity

import (
	"fmt"
	"time"
)

// Day is the unit of ladder offsets.
const Day = 24 * time.Hour

// Notification templates.
const (
	TemplatePaymentFailedWarning  = "payment-failed-warning"
	TemplatePaymentActionRequired = "payment-action-required"
	TemplatePaymentFinalWarning   = "payment-final-warning"
	TemplateAccountSuspended      = "account-suspended"
	TemplatePaymentRecovered      = "payment-recovered"
)

// LadderStep is one row of the escalation ladder.
type LadderStep struct {
	DayOffset      int
	State          EpisodeState
	Template       string
	RetriesPayment bool
}

// Offset returns the step's offset from failedAt.
func (s LadderStep) Offset() time.Duration {
	return time.Duration(s.DayOffset) * Day
}

// Ladder is the ordered escalation table.
type Ladder []LadderStep

// DefaultLadder returns the standard 0/3/7/14/21 day ladder.
func DefaultLadder() Ladder {
	return Ladder{
		{DayOffset: 0, State: StateRetrying, RetriesPayment: true},
		{DayOffset: 3, State: StateWarningSent, Template: TemplatePaymentFailedWarning, RetriesPayment: true},
		{DayOffset: 7, State: StateActionRequired, Template: TemplatePaymentActionRequired, RetriesPayment: true},
		{DayOffset: 14, State: StateFinalWarning, Template: TemplatePaymentFinalWarning, RetriesPayment: true},
		{DayOffset: 21, State: StateSuspended, Template: TemplateAccountSuspended, RetriesPayment: false},
	}
}

// Validate checks the ladder shape: starts at day 0 with RETRYING, offsets strictly
// increase, states follow ladder order, and only the last row (SUSPENDED) stops retrying.
func (l Ladder) Validate() error {
	if len(l) < 2 {
		return fmt.Errorf("ladder needs at least two steps, got %d", len(l))
	}
	if l[0].DayOffset != 0 || l[0].State != StateRetrying {
		return fmt.Errorf("ladder must start with RETRYING at day 0")
	}
	last := l[len(l)-1]
	if last.State != StateSuspended || last.RetriesPayment {
		return fmt.Errorf("ladder must end with a non-retrying SUSPENDED step")
	}
	prevRank := -1
	for i, step := range l {
		rank := stateRank(step.State)
		if rank < 0 || step.State == StateResolved {
			return fmt.Errorf("step %d: state %q cannot appear in the ladder", i, step.State)
		}
		if rank <= prevRank {
			return fmt.Errorf("step %d: state %s is out of order", i, step.State)
		}
		prevRank = rank
		if i > 0 {
			if step.DayOffset <= l[i-1].DayOffset {
				return fmt.Errorf("step %d: day offset %d must exceed %d", i, step.DayOffset, l[i-1].DayOffset)
			}
			if step.Template == "" {
				return fmt.Errorf("step %d: template required", i)
			}
		}
		if i < len(l)-1 && !step.RetriesPayment {
			return fmt.Errorf("step %d: only the final step may stop retrying", i)
		}
	}
	return nil
}

// Rank returns the position of state in ladder order. RESOLVED ranks above every
// ladder state; unknown states rank -1.
func (l Ladder) Rank(state EpisodeState) int {
	if state == StateResolved {
		return len(l)
	}
	for i, step := range l {
		if step.State == state {
			return i
		}
	}
	return -1
}

// StageFor returns the furthest step whose offset has elapsed.
func (l Ladder) StageFor(elapsed time.Duration) LadderStep {
	current := l[0]
	for _, step := range l {
		if step.Offset() <= elapsed {
			current = step
		}
	}
	return current
}

// NextAfter returns the first step whose offset has not yet elapsed.
func (l Ladder) NextAfter(elapsed time.Duration) (LadderStep, bool) {
	for _, step := range l {
		if step.Offset() > elapsed {
			return step, true
		}
	}
	return LadderStep{}, false
}

// Step returns the row for state.
func (l Ladder) Step(state EpisodeState) (LadderStep, bool) {
	for _, step := range l {
		if step.State == state {
			return step, true
		}
	}
	return LadderStep{}, false
}

func stateRank(s EpisodeState) int {
	for i, st := range AllStates {
		if st == s {
			return i
		}
	}
	return -1
}
