package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 100.0, SuccessRate(0, 0))
	assert.Equal(t, 92.6, SuccessRate(25, 2))
	assert.Equal(t, 0.0, SuccessRate(0, 4))
	assert.Equal(t, 100.0, SuccessRate(7, 0))
}

func TestLatestByName(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := []MetricSample{
		{Name: "cpu_percent", Value: 95, RecordedAt: t0.Add(time.Minute)},
		{Name: "cpu_percent", Value: 40, RecordedAt: t0},
		{Name: "memory_percent", Value: 70, RecordedAt: t0},
		{Name: "memory_percent", Value: 72, RecordedAt: t0},
		{Name: "", Value: 1, RecordedAt: t0},
	}

	got := LatestByName(samples)
	assert.Equal(t, Metrics{"cpu_percent": 95, "memory_percent": 72}, got)

	v, ok := got.Get("disk_percent")
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestActionTransitions(t *testing.T) {
	tests := []struct {
		from, to ActionStatus
		err      error
	}{
		{ActionPending, ActionQueued, nil},
		{ActionQueued, ActionRunning, nil},
		{ActionRunning, ActionCompleted, nil},
		{ActionRunning, ActionFailed, nil},
		{ActionQueued, ActionFailed, nil},
		{ActionPending, ActionCancelled, nil},
		{ActionQueued, ActionCancelled, nil},
		{ActionRunning, ActionCancelled, ErrInvalidTransition},
		{ActionPending, ActionRunning, ErrInvalidTransition},
		{ActionCompleted, ActionFailed, ErrAlreadyFinished},
		{ActionCancelled, ActionQueued, ErrAlreadyFinished},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			a := &Action{Status: tt.from}
			err := a.CanTransitionTo(tt.to)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestTransitionSources(t *testing.T) {
	assert.Equal(t, []ActionStatus{ActionQueued, ActionRunning}, TransitionSources(ActionCompleted))
	assert.Equal(t, []ActionStatus{ActionQueued}, TransitionSources(ActionRunning))
	assert.Empty(t, TransitionSources(ActionPending))
}
