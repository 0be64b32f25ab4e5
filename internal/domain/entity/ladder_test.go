package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLadder_Valid(t *testing.T) {
	require.NoError(t, DefaultLadder().Validate())
}

func TestLadder_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Ladder) Ladder
		errMsg string
	}{
		{
			name:   "too short",
			mutate: func(l Ladder) Ladder { return l[:1] },
			errMsg: "at least two steps",
		},
		{
			name: "does not start at day 0",
			mutate: func(l Ladder) Ladder {
				l[0].DayOffset = 1
				return l
			},
			errMsg: "must start with RETRYING",
		},
		{
			name: "last step retries",
			mutate: func(l Ladder) Ladder {
				l[4].RetriesPayment = true
				return l
			},
			errMsg: "non-retrying SUSPENDED",
		},
		{
			name: "offsets not increasing",
			mutate: func(l Ladder) Ladder {
				l[2].DayOffset = 3
				return l
			},
			errMsg: "day offset 3 must exceed 3",
		},
		{
			name: "states out of order",
			mutate: func(l Ladder) Ladder {
				l[1].State, l[2].State = l[2].State, l[1].State
				return l
			},
			errMsg: "out of order",
		},
		{
			name: "missing template",
			mutate: func(l Ladder) Ladder {
				l[3].Template = ""
				return l
			},
			errMsg: "template required",
		},
		{
			name: "middle step stops retrying",
			mutate: func(l Ladder) Ladder {
				l[2].RetriesPayment = false
				return l
			},
			errMsg: "only the final step",
		},
		{
			name: "resolved in ladder",
			mutate: func(l Ladder) Ladder {
				l[3].State = StateResolved
				return l
			},
			errMsg: "cannot appear in the ladder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(DefaultLadder()).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLadder_ShortLadderIsValid(t *testing.T) {
	l := Ladder{
		{DayOffset: 0, State: StateRetrying, RetriesPayment: true},
		{DayOffset: 10, State: StateSuspended, Template: TemplateAccountSuspended},
	}
	assert.NoError(t, l.Validate())
}

func TestLadder_StageFor(t *testing.T) {
	l := DefaultLadder()
	tests := []struct {
		elapsed time.Duration
		want    EpisodeState
	}{
		{0, StateRetrying},
		{3*Day - time.Second, StateRetrying},
		{3 * Day, StateWarningSent},
		{6 * Day, StateWarningSent},
		{7 * Day, StateActionRequired},
		{14 * Day, StateFinalWarning},
		{21 * Day, StateSuspended},
		{90 * Day, StateSuspended},
		{-time.Hour, StateRetrying},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.StageFor(tt.elapsed).State, "elapsed %s", tt.elapsed)
	}
}

func TestLadder_NextAfter(t *testing.T) {
	l := DefaultLadder()

	next, ok := l.NextAfter(0)
	require.True(t, ok)
	assert.Equal(t, 3, next.DayOffset)

	next, ok = l.NextAfter(14 * Day)
	require.True(t, ok)
	assert.Equal(t, StateSuspended, next.State)
	assert.Equal(t, 21*Day, next.Offset())

	_, ok = l.NextAfter(21 * Day)
	assert.False(t, ok)
}

func TestLadder_RankAndStep(t *testing.T) {
	l := DefaultLadder()

	assert.Equal(t, 0, l.Rank(StateRetrying))
	assert.Equal(t, 4, l.Rank(StateSuspended))
	assert.Equal(t, 5, l.Rank(StateResolved))
	assert.Equal(t, -1, l.Rank("BOGUS"))

	step, ok := l.Step(StateFinalWarning)
	require.True(t, ok)
	assert.Equal(t, TemplatePaymentFinalWarning, step.Template)

	_, ok = l.Step(StateResolved)
	assert.False(t, ok)
}
