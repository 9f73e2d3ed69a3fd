// Package bus defines the interface to the real-time hardware control bus.
// The binary protocol itself lives in the vendor SDK; this package only
// consumes events and issues lifecycle commands through it.
package bus

import "time"

type EventID int

const (
	EventDeviceEmergency EventID = 0x01
	EventDeviceGuard     EventID = 0x02
)

// Emergency payload codes (first data word of a device emergency event).
const (
	DCLinkUnderVoltage = 0x3220
)

// Guard payload codes (first data word of a device guard event).
const (
	GuardHeartbeatErrOccurred = 0x01
	GuardHeartbeatErrResolved = 0x02
)

// Event is a single immutable event read from the bus.
type Event struct {
	ID           EventID
	DeviceHandle string
	Data         []int
	Message      string
}

// IsUnderVoltage reports whether the event signals loss of safe operating
// power (DC link under-voltage emitted by the supervisory controller).
func (e Event) IsUnderVoltage() bool {
	return e.ID == EventDeviceEmergency && len(e.Data) > 0 && e.Data[0] == DCLinkUnderVoltage
}

func (e Event) IsHeartbeatErrOccurred() bool {
	return e.ID == EventDeviceGuard && len(e.Data) > 0 && e.Data[0] == GuardHeartbeatErrOccurred
}

// IsHeartbeatErrResolved reports whether the supervisory controller came back
// after a power fault. This is the recovery trigger for the system state.
func (e Event) IsHeartbeatErrResolved() bool {
	return e.ID == EventDeviceGuard && len(e.Data) > 0 && e.Data[0] == GuardHeartbeatErrResolved
}

// Bus is the hardware control bus capability. Open/Start/Stop/Close and
// ReadEvent may only be called from the goroutine that opened the bus, except
// ReadEvent which the monitor loop uses with a bounded wait.
type Bus interface {
	Open(configPath, pluginPath string) error
	Start() error
	Stop() error
	Close() error

	// ReadEvent waits up to timeout for one event. The second return value is
	// false when no valid event arrived within the timeout.
	ReadEvent(timeout time.Duration) (Event, bool)
}
