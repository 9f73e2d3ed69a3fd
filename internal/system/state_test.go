package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "operational", StateOperational.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "shutdown", StateShutdown.String())
}

func TestStateTransitions(t *testing.T) {
	var s stateVar

	assert.True(t, s.Set(StateOperational))
	assert.True(t, s.Set(StateStopped))
	assert.True(t, s.Set(StateOperational), "stopped systems can recover")

	assert.True(t, s.Set(StateShutdown))
	assert.False(t, s.Set(StateOperational), "shutdown is terminal")
	assert.Equal(t, StateShutdown, s.Load())
}
