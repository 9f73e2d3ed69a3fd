// Package interfaces holds the contracts between the system core and its
// outer surfaces so the REST and websocket layers do not import the core.
package interfaces

// DeviceStatus describes one provisioned device service.
type DeviceStatus struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Simulated    bool   `json:"simulated"`
	UUID         string `json:"uuid"`
	Port         int    `json:"port"`
	Enabled      bool   `json:"enabled"`
	InFault      bool   `json:"in_fault"`
}

// SystemStatus is the system-wide view served by the admin API.
type SystemStatus struct {
	State          string `json:"state"`
	Devices        int    `json:"devices"`
	BatteryPowered bool   `json:"battery_powered"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// Controller is the surface the admin API talks to.
type Controller interface {
	Status() SystemStatus
	Devices() []DeviceStatus

	// RequestStop ends the control loop without powering off the host.
	RequestStop()
	// RequestShutdown ends the control loop and powers the host off.
	RequestShutdown(force bool)
}

// StateNotifier pushes system state changes to interested listeners, such as
// the websocket hub.
type StateNotifier interface {
	NotifyState(state string)
}
