package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateDelay_ExponentialSequence(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60}
	for i, w := range want {
		got := CalculateDelay(i+1, Exponential, time.Second, 2.0, 60*time.Second)
		assert.Equal(t, w*time.Second, got, "attempt %d", i+1)
	}
}

func TestCalculateDelay_CapEnforced(t *testing.T) {
	assert.Equal(t, 10*time.Second, CalculateDelay(10, Exponential, time.Second, 2.0, 10*time.Second))
}

func TestCalculateDelay_Strategies(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		strategy Strategy
		want     time.Duration
	}{
		{"linear first", 1, Linear, 500 * time.Millisecond},
		{"linear third", 3, Linear, 1500 * time.Millisecond},
		{"linear capped", 100, Linear, 5 * time.Second},
		{"constant", 7, Constant, 500 * time.Millisecond},
		{"exponential zero attempt", 0, Exponential, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDelay(tt.attempt, tt.strategy, 500*time.Millisecond, 2.0, 5*time.Second)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateDelay_OverflowClampsToCap(t *testing.T) {
	assert.Equal(t, time.Minute, CalculateDelay(5000, Exponential, time.Second, 2.0, time.Minute))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Linear")
	require.NoError(t, err)
	assert.Equal(t, Linear, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Exponential, s)

	_, err = ParseStrategy("fibonacci")
	assert.Error(t, err)
}
