package devices

import "sync"

// SimDriver is the in-memory driver used for simulated devices and as the
// fallback when simulate_missing swaps out an unreachable vendor driver.
type SimDriver struct {
	mu      sync.Mutex
	started bool
	enabled bool
	fault   bool
}

func NewSimDriver() *SimDriver {
	return &SimDriver{}
}

func (d *SimDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.enabled = true
	return nil
}

func (d *SimDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.enabled = false
	return nil
}

func (d *SimDriver) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *SimDriver) Enable(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = on
	return nil
}

func (d *SimDriver) IsInFaultState() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

func (d *SimDriver) ClearFault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = false
	return nil
}

func (d *SimDriver) SetOperational() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = false
	d.enabled = true
	return nil
}

// InjectFault puts the driver into a fault state. Test hook.
func (d *SimDriver) InjectFault() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = true
	d.enabled = false
}

// SimPumpDriver adds the persisted drive position counter of syringe pumps.
type SimPumpDriver struct {
	SimDriver

	posMu          sync.Mutex
	posInitialized bool
	position       int64
}

func NewSimPumpDriver() *SimPumpDriver {
	return &SimPumpDriver{}
}

func (d *SimPumpDriver) IsPositionSensingInitialized() bool {
	d.posMu.Lock()
	defer d.posMu.Unlock()
	return d.posInitialized
}

func (d *SimPumpDriver) RestorePositionCounter(value int64) error {
	d.posMu.Lock()
	defer d.posMu.Unlock()
	d.position = value
	d.posInitialized = true
	return nil
}

// PositionCounter returns the current drive position counter value.
func (d *SimPumpDriver) PositionCounter() int64 {
	d.posMu.Lock()
	defer d.posMu.Unlock()
	return d.position
}

// DropPositionSensing marks the position counter as lost, as happens after a
// power fault. Test hook.
func (d *SimPumpDriver) DropPositionSensing() {
	d.posMu.Lock()
	defer d.posMu.Unlock()
	d.posInitialized = false
}

// SimStirrerDriver adds the persisted RPM and power setpoints of stirrers.
type SimStirrerDriver struct {
	SimDriver

	setMu sync.Mutex
	rpm   float64
	power float64
}

func NewSimStirrerDriver() *SimStirrerDriver {
	return &SimStirrerDriver{}
}

func (d *SimStirrerDriver) RPM() float64 {
	d.setMu.Lock()
	defer d.setMu.Unlock()
	return d.rpm
}

func (d *SimStirrerDriver) Power() float64 {
	d.setMu.Lock()
	defer d.setMu.Unlock()
	return d.power
}

func (d *SimStirrerDriver) SetRPM(value float64) error {
	d.setMu.Lock()
	defer d.setMu.Unlock()
	d.rpm = value
	return nil
}

func (d *SimStirrerDriver) SetPower(value float64) error {
	d.setMu.Lock()
	defer d.setMu.Unlock()
	d.power = value
	return nil
}

// SimBatteryDriver simulates the battery pack of a mobile dosage unit.
type SimBatteryDriver struct {
	SimDriver

	batMu     sync.Mutex
	primary   bool
	secondary bool
	voltage   float64
}

func NewSimBatteryDriver() *SimBatteryDriver {
	return &SimBatteryDriver{
		primary: true,
		voltage: 24.0,
	}
}

func (d *SimBatteryDriver) IsConnected() bool {
	d.batMu.Lock()
	defer d.batMu.Unlock()
	return d.primary
}

func (d *SimBatteryDriver) IsSecondarySourceConnected() bool {
	d.batMu.Lock()
	defer d.batMu.Unlock()
	return d.secondary
}

func (d *SimBatteryDriver) Voltage() float64 {
	d.batMu.Lock()
	defer d.batMu.Unlock()
	return d.voltage
}

// SetPower flips the simulated power sources. Test hook.
func (d *SimBatteryDriver) SetPower(primary, secondary bool) {
	d.batMu.Lock()
	defer d.batMu.Unlock()
	d.primary = primary
	d.secondary = secondary
	if !primary {
		d.voltage = 0
	}
}
