package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		threshold int
		previous  DesiredState
		want      DesiredState
	}{
		{"above threshold from unknown", 45, 30, StateUnknown, StateUp},
		{"above threshold from down", 31, 30, StateDown, StateUp},
		{"below threshold from up", 10, 30, StateUp, StateDown},
		{"zero count forces down", 0, 30, StateUp, StateDown},
		{"equal keeps up", 30, 30, StateUp, StateUp},
		{"equal keeps down", 30, 30, StateDown, StateDown},
		{"equal keeps unknown", 30, 30, StateUnknown, StateUnknown},
		{"zero threshold zero count keeps previous", 0, 0, StateDown, StateDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.count, tt.threshold, tt.previous))
		})
	}
}

func TestParseDesiredState(t *testing.T) {
	got, err := ParseDesiredState(" up ")
	require.NoError(t, err)
	assert.Equal(t, StateUp, got)

	got, err = ParseDesiredState("DOWN")
	require.NoError(t, err)
	assert.Equal(t, StateDown, got)

	_, err = ParseDesiredState("UNKNOWN")
	assert.Error(t, err)
}

func TestDesiredStateValidAndString(t *testing.T) {
	assert.True(t, StateUp.Valid())
	assert.True(t, StateDown.Valid())
	assert.False(t, StateUnknown.Valid())
	assert.False(t, DesiredState("").Valid())
	assert.Equal(t, "UNKNOWN", DesiredState("").String())
}
