package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewSystemStateMessage(t *testing.T) {
	msg := NewSystemStateMessage("stopped")

	assert.Equal(t, MessageTypeSystemState, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())
	payload, ok := msg.Payload.(SystemStatePayload)
	assert.True(t, ok)
	assert.Equal(t, "stopped", payload.State)
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Shutdown()

	// Must not block or panic with nobody listening.
	hub.NotifyState("operational")
	hub.NotifyState("stopped")
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubShutdownIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	hub.Shutdown()
	hub.Shutdown()
}
