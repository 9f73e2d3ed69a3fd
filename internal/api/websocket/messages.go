package websocket

import "time"

// Message is the envelope for every frame pushed to live clients.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

const (
	// MessageTypeSystemState announces a system state transition.
	MessageTypeSystemState = "system_state"
	// MessageTypeDeviceStatus carries the current device list.
	MessageTypeDeviceStatus = "device_status"
)

// SystemStatePayload is the payload of a system_state message.
type SystemStatePayload struct {
	State string `json:"state"`
}

func NewSystemStateMessage(state string) Message {
	return Message{
		Type:      MessageTypeSystemState,
		Timestamp: time.Now(),
		Payload:   SystemStatePayload{State: state},
	}
}
