package devices

// Kind tags the supported device classes. Device-type specific behaviour
// hangs off the driver interfaces below, not off runtime type mutation.
type Kind string

const (
	KindPump           Kind = "pump"
	KindValve          Kind = "valve"
	KindStirrer        Kind = "stirring"
	KindBalance        Kind = "balance"
	KindHeatingCooling Kind = "heating_cooling"
	KindPurification   Kind = "purification"
	KindMobileDosage   Kind = "mobile_dosage"
)

// KnownKinds lists every device kind this build ships a driver for.
var KnownKinds = map[Kind]bool{
	KindPump:           true,
	KindValve:          true,
	KindStirrer:        true,
	KindBalance:        true,
	KindHeatingCooling: true,
	KindPurification:   true,
	KindMobileDosage:   true,
}

// Driver is the capability every device driver exposes. Vendor drivers
// implement this over their SDK; simulated drivers implement it in memory.
type Driver interface {
	Start() error
	Stop() error
	IsEnabled() bool
	Enable(on bool) error
	IsInFaultState() bool
	ClearFault() error

	// SetOperational brings the device (and any attached sub-units) back into
	// a serving state after a bus fault was resolved.
	SetOperational() error
}

// BatteryDriver is the additional capability of battery-backed devices.
type BatteryDriver interface {
	Driver
	IsConnected() bool
	IsSecondarySourceConnected() bool
	Voltage() float64
}

// PositionedDriver is implemented by drivers with a persisted drive position
// counter that must be restored after a power fault.
type PositionedDriver interface {
	IsPositionSensingInitialized() bool
	PositionCounter() int64
	RestorePositionCounter(value int64) error
}

// StirrerDriver is implemented by drivers whose last commanded setpoints are
// persisted and pushed back into the hardware after a restart.
type StirrerDriver interface {
	RPM() float64
	Power() float64
	SetRPM(value float64) error
	SetPower(value float64) error
}

// Device is one entry of the device configuration. Identity is Name.
type Device struct {
	Name         string
	Kind         Kind
	Manufacturer string
	Simulated    bool
	Driver       Driver
}

// Battery returns the battery capability of the device's driver, if any.
func (d *Device) Battery() (BatteryDriver, bool) {
	b, ok := d.Driver.(BatteryDriver)
	return b, ok
}

// IsBatteryPowered reports whether this device runs from a battery and is
// therefore subject to the power and inactivity guards.
func (d *Device) IsBatteryPowered() bool {
	_, ok := d.Battery()
	return ok
}
