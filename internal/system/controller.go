package system

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/bus"
	"github.com/KilianBerger/OpenLabHost/internal/cert"
	"github.com/KilianBerger/OpenLabHost/internal/config"
	"github.com/KilianBerger/OpenLabHost/internal/devices"
	"github.com/KilianBerger/OpenLabHost/internal/interfaces"
	"github.com/KilianBerger/OpenLabHost/internal/ports"
	"github.com/KilianBerger/OpenLabHost/internal/record"
	"github.com/KilianBerger/OpenLabHost/internal/rpc"
	"github.com/KilianBerger/OpenLabHost/internal/types"
	"go.uber.org/zap"
)

// ServiceFactory builds the network service for one provisioned device.
// systemState reports the current system state name for call gating.
type ServiceFactory func(dev *devices.Device, rec *record.ServiceRecord, traffic *rpc.TrafficMonitor, systemState func() string) (rpc.Service, error)

// provisionedDevice couples a configured device with its identity record and
// running service.
type provisionedDevice struct {
	device  *devices.Device
	rec     *record.ServiceRecord
	port    int
	service rpc.Service
}

// Controller drives the whole host: it opens the bus, brings up the device
// drivers, provisions one TLS service per device and then runs the main loop
// that executes dispatcher tasks until shutdown.
type Controller struct {
	cfg    *config.Config
	devCfg *devices.Configuration

	bus      bus.Bus
	records  *record.Store
	certs    *cert.Store
	factory  ServiceFactory
	host     HostPower
	notifier interfaces.StateNotifier
	logger   *zap.Logger

	basePortOverridden bool

	dispatcher *Dispatcher
	traffic    *rpc.TrafficMonitor
	state      stateVar
	startedAt  time.Time

	mon   *monitor
	guard *inactivityGuard

	mu          sync.Mutex
	provisioned []*provisionedDevice

	busStarted   bool
	hostShutdown bool
	forceHost    bool

	cleanupOnce sync.Once
}

func NewController(cfg *config.Config, devCfg *devices.Configuration, b bus.Bus, records *record.Store, certs *cert.Store, factory ServiceFactory, host HostPower, basePortOverridden bool, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:                cfg,
		devCfg:             devCfg,
		bus:                b,
		records:            records,
		certs:              certs,
		factory:            factory,
		host:               host,
		basePortOverridden: basePortOverridden,
		logger:             logger,
		dispatcher:         NewDispatcher(32),
		traffic:            rpc.NewTrafficMonitor(devCfg.MaxTimeWithoutTraffic),
	}
}

// SetStateNotifier installs a listener for state changes, typically the
// websocket hub. Must be called before Run.
func (c *Controller) SetStateNotifier(n interfaces.StateNotifier) {
	c.notifier = n
}

// Run executes the controller until a stop or shutdown request arrives.
// A bus that cannot be opened is fatal; everything after that degrades per
// device instead of failing the whole host.
func (c *Controller) Run() error {
	c.startedAt = time.Now()

	if err := c.bus.Open(c.cfg.Bus.ConfigPath, c.cfg.Bus.PluginPath); err != nil {
		return &types.BusOpenError{ConfigPath: c.cfg.Bus.ConfigPath, Err: err}
	}
	if err := c.bus.Start(); err != nil {
		c.bus.Close()
		return fmt.Errorf("failed to start bus communication: %w", err)
	}
	c.busStarted = true

	c.startDrivers()
	c.setState(StateOperational)
	c.startGuards()
	c.provisionAll()
	c.writeReadyMarker()

	c.logger.Info("System operational",
		zap.Int("devices", len(c.provisioned)),
		zap.Bool("battery_powered", c.devCfg.HasBattery()))

	for c.state.Load() != StateShutdown {
		c.dispatcher.RunOnce(time.Second)
	}
	c.dispatcher.Drain()

	c.cleanup()

	if c.hostShutdown {
		if err := c.host.Shutdown(c.forceHost); err != nil {
			c.logger.Error("Failed to shut down host", zap.Error(err))
		}
	}
	return nil
}

// RequestStop asks the main loop to wind down without touching host power.
// Safe to call from any goroutine.
func (c *Controller) RequestStop() {
	c.submit(func() {
		c.logger.Info("Stop requested")
		c.setState(StateShutdown)
	})
}

// RequestShutdown winds the controller down and then powers the host off.
func (c *Controller) RequestShutdown(force bool) {
	c.submit(func() {
		c.logger.Warn("Host shutdown requested", zap.Bool("force", force))
		c.hostShutdown = true
		c.forceHost = force
		c.setState(StateShutdown)
	})
}

func (c *Controller) submit(task Task) {
	if err := c.dispatcher.Submit(task); err != nil {
		c.logger.Warn("Dropping task, controller is shutting down", zap.Error(err))
	}
}

// Status implements interfaces.Controller.
func (c *Controller) Status() interfaces.SystemStatus {
	c.mu.Lock()
	provisioned := len(c.provisioned)
	c.mu.Unlock()

	return interfaces.SystemStatus{
		State:          c.state.Load().String(),
		Devices:        provisioned,
		BatteryPowered: c.devCfg.HasBattery(),
		UptimeSeconds:  int64(time.Since(c.startedAt).Seconds()),
	}
}

// Devices implements interfaces.Controller.
func (c *Controller) Devices() []interfaces.DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]interfaces.DeviceStatus, 0, len(c.provisioned))
	for _, p := range c.provisioned {
		out = append(out, interfaces.DeviceStatus{
			Name:         p.device.Name,
			Type:         string(p.device.Kind),
			Manufacturer: p.device.Manufacturer,
			Simulated:    p.device.Simulated,
			UUID:         p.rec.UUID.String(),
			Port:         p.port,
			Enabled:      p.device.Driver.IsEnabled(),
			InFault:      p.device.Driver.IsInFaultState(),
		})
	}
	return out
}

// IsOperational reports whether device commands are currently allowed.
func (c *Controller) IsOperational() bool {
	return c.state.Load() == StateOperational
}

// StateName is handed to the RPC interceptors that gate device commands.
func (c *Controller) StateName() string {
	return c.state.Load().String()
}

func (c *Controller) setState(next State) {
	if !c.state.Set(next) {
		return
	}
	c.logger.Info("System state changed", zap.String("state", next.String()))
	if c.notifier != nil {
		c.notifier.NotifyState(next.String())
	}
}

func (c *Controller) startDrivers() {
	for _, dev := range c.devCfg.Devices {
		if err := dev.Driver.Start(); err != nil {
			c.logger.Warn("Failed to start device driver",
				zap.String("device", dev.Name),
				zap.Error(err))
			continue
		}
		if err := dev.Driver.Enable(true); err != nil {
			c.logger.Warn("Failed to enable device",
				zap.String("device", dev.Name),
				zap.Error(err))
		}
	}
}

// provisionAll assigns identity, certificate and port to every device and
// starts its service. A failing device is skipped so one broken unit never
// takes the whole host down.
func (c *Controller) provisionAll() {
	allocator := ports.NewAllocator(c.logger)
	ip := net.ParseIP(c.devCfg.ServerIP)
	if ip == nil {
		ip = net.ParseIP("127.0.0.1")
	}

	for i, dev := range c.devCfg.Devices {
		p, err := c.provision(dev, i, allocator, ip)
		if err != nil {
			provErr := &types.ServiceProvisioningError{Service: dev.Name, Err: err}
			c.logger.Error("Skipping service", zap.Error(provErr))
			continue
		}
		c.mu.Lock()
		c.provisioned = append(c.provisioned, p)
		c.mu.Unlock()
	}
}

func (c *Controller) provision(dev *devices.Device, index int, allocator *ports.Allocator, ip net.IP) (*provisionedDevice, error) {
	rec, err := c.records.Load(dev.Name)
	if err != nil {
		return nil, err
	}

	if c.devCfg.RegenerateCertificates {
		err = c.certs.ForceRegenerate(dev.Name, rec, ip)
	} else {
		err = c.certs.GetOrCreate(dev.Name, rec, ip)
	}
	if err != nil {
		return nil, err
	}
	if err := c.certs.EnsureAddressCovered(dev.Name, rec, ip); err != nil {
		return nil, err
	}
	if err := c.certs.RenewIfNearExpiry(dev.Name, rec); err != nil {
		return nil, err
	}

	port := allocator.Allocate(dev.Name, rec, index, c.devCfg.ServerBasePort, c.basePortOverridden)
	if err := c.records.Save(dev.Name, rec); err != nil {
		return nil, err
	}

	c.restorePosition(dev, rec)
	c.restoreStirring(dev, rec)

	service, err := c.factory(dev, rec, c.traffic, c.StateName)
	if err != nil {
		return nil, err
	}
	// Self-signed services are their own trust anchor for discovery.
	if err := service.Start(c.devCfg.ServerIP, port,
		[]byte(rec.PrivateKeyPEM), []byte(rec.CertificatePEM), []byte(rec.CertificatePEM),
		c.devCfg.EnableDiscovery); err != nil {
		return nil, err
	}

	c.logger.Info("Service provisioned",
		zap.String("service", dev.Name),
		zap.String("uuid", rec.UUID.String()),
		zap.Int("port", port))

	return &provisionedDevice{device: dev, rec: rec, port: port, service: service}, nil
}

// restorePosition pushes a persisted drive position counter back into a pump
// whose position sensing was lost, typically after a power fault.
func (c *Controller) restorePosition(dev *devices.Device, rec *record.ServiceRecord) {
	pd, ok := dev.Driver.(devices.PositionedDriver)
	if !ok || rec.DrivePositionCounter == nil || pd.IsPositionSensingInitialized() {
		return
	}
	if err := pd.RestorePositionCounter(*rec.DrivePositionCounter); err != nil {
		c.logger.Warn("Failed to restore drive position counter",
			zap.String("device", dev.Name),
			zap.Error(err))
		return
	}
	c.logger.Info("Restored drive position counter",
		zap.String("device", dev.Name),
		zap.Int64("counter", *rec.DrivePositionCounter))
}

// restoreStirring pushes persisted stirrer setpoints back into the hardware,
// which always comes up with both set to zero.
func (c *Controller) restoreStirring(dev *devices.Device, rec *record.ServiceRecord) {
	sd, ok := dev.Driver.(devices.StirrerDriver)
	if !ok {
		return
	}
	if rec.Stirring.RPM != nil {
		if err := sd.SetRPM(*rec.Stirring.RPM); err != nil {
			c.logger.Warn("Failed to restore stirrer rpm",
				zap.String("device", dev.Name),
				zap.Error(err))
		}
	}
	if rec.Stirring.Power != nil {
		if err := sd.SetPower(*rec.Stirring.Power); err != nil {
			c.logger.Warn("Failed to restore stirrer power",
				zap.String("device", dev.Name),
				zap.Error(err))
		}
	}
	if rec.Stirring.RPM != nil || rec.Stirring.Power != nil {
		c.logger.Info("Restored stirrer setpoints", zap.String("device", dev.Name))
	}
}

func (c *Controller) startGuards() {
	var battery devices.BatteryDriver
	if dev, ok := c.devCfg.BatteryDevice(); ok {
		battery, _ = dev.Battery()
	}

	c.mon = &monitor{
		bus:             c.bus,
		dispatcher:      c.dispatcher,
		logger:          c.logger,
		pollInterval:    c.cfg.Bus.PollInterval,
		readTimeout:     c.cfg.Bus.EventReadTimeout,
		supervisorGrace: c.cfg.Bus.SupervisorGrace,
		battery:         battery,
		maxWithoutPower: c.devCfg.MaxTimeWithoutPower,
		state:           c.state.Load,
		onFault:         c.stopForFault,
		onRecover:       c.recoverOperational,
		requestShutdown: c.RequestShutdown,
		stopChan:        make(chan struct{}),
	}
	c.mon.start()

	c.guard = &inactivityGuard{
		traffic:         c.traffic,
		battery:         battery,
		checkInterval:   c.cfg.Bus.PollInterval,
		logger:          c.logger,
		requestShutdown: c.RequestShutdown,
		stopChan:        make(chan struct{}),
	}
	c.guard.start()
}

// stopForFault halts all devices and parks the system in the stopped state.
// Runs on the dispatcher goroutine.
func (c *Controller) stopForFault(reason string) {
	if c.state.Load() != StateOperational {
		return
	}

	c.logger.Warn("Stopping all devices", zap.String("reason", reason))
	for _, dev := range c.devCfg.Devices {
		if err := dev.Driver.Stop(); err != nil {
			c.logger.Error("Failed to stop device",
				zap.String("device", dev.Name),
				zap.Error(err))
		}
	}
	c.setState(StateStopped)
}

// recoverOperational brings a stopped system back: faults cleared, drivers
// restarted, position counters restored. Runs on the dispatcher goroutine.
func (c *Controller) recoverOperational(trigger string) {
	if c.state.Load() != StateStopped {
		return
	}

	c.logger.Info("Recovering system", zap.String("trigger", trigger))
	for _, dev := range c.devCfg.Devices {
		if dev.Driver.IsInFaultState() {
			if err := dev.Driver.ClearFault(); err != nil {
				c.logger.Error("Failed to clear device fault",
					zap.String("device", dev.Name),
					zap.Error(err))
				continue
			}
		}
		if err := dev.Driver.SetOperational(); err != nil {
			c.logger.Error("Failed to set device operational",
				zap.String("device", dev.Name),
				zap.Error(err))
			continue
		}
	}

	c.mu.Lock()
	provisioned := append([]*provisionedDevice(nil), c.provisioned...)
	c.mu.Unlock()
	for _, p := range provisioned {
		c.restorePosition(p.device, p.rec)
	}

	c.setState(StateOperational)
}

func (c *Controller) writeReadyMarker() {
	path := c.cfg.State.ReadyFile
	if path == "" {
		return
	}
	if err := os.WriteFile(path, []byte("ready\n"), 0o644); err != nil {
		c.logger.Warn("Failed to write readiness marker",
			zap.String("path", path),
			zap.Error(err))
	}
}

func (c *Controller) removeReadyMarker() {
	if c.cfg.State.ReadyFile == "" {
		return
	}
	if err := os.Remove(c.cfg.State.ReadyFile); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Failed to remove readiness marker", zap.Error(err))
	}
}

func (c *Controller) cleanup() {
	c.cleanupOnce.Do(func() {
		c.logger.Info("Shutting down")
		c.dispatcher.Close()

		if c.guard != nil {
			c.guard.stop()
		}
		if c.mon != nil {
			c.mon.stop()
		}

		c.persistDeviceState()

		c.mu.Lock()
		provisioned := append([]*provisionedDevice(nil), c.provisioned...)
		c.mu.Unlock()
		for _, p := range provisioned {
			if err := p.service.Stop(); err != nil {
				c.logger.Error("Failed to stop service",
					zap.String("service", p.device.Name),
					zap.Error(err))
			}
		}

		for _, dev := range c.devCfg.Devices {
			if err := dev.Driver.Stop(); err != nil {
				c.logger.Error("Failed to stop device",
					zap.String("device", dev.Name),
					zap.Error(err))
			}
		}

		if c.busStarted {
			if err := c.bus.Stop(); err != nil {
				c.logger.Error("Failed to stop bus communication", zap.Error(err))
			}
		}
		if err := c.bus.Close(); err != nil {
			c.logger.Error("Failed to close bus", zap.Error(err))
		}

		c.removeReadyMarker()
		c.logger.Info("Shutdown complete")
	})
}

// persistDeviceState saves the drive position counters and stirrer setpoints
// so they survive the restart.
func (c *Controller) persistDeviceState() {
	c.mu.Lock()
	provisioned := append([]*provisionedDevice(nil), c.provisioned...)
	c.mu.Unlock()

	for _, p := range provisioned {
		dirty := false

		if pd, ok := p.device.Driver.(devices.PositionedDriver); ok && pd.IsPositionSensingInitialized() {
			counter := pd.PositionCounter()
			p.rec.DrivePositionCounter = &counter
			dirty = true
		}
		if sd, ok := p.device.Driver.(devices.StirrerDriver); ok {
			rpm, power := sd.RPM(), sd.Power()
			p.rec.Stirring = record.StirringState{RPM: &rpm, Power: &power}
			dirty = true
		}

		if !dirty {
			continue
		}
		if err := c.records.Save(p.device.Name, p.rec); err != nil {
			c.logger.Error("Failed to persist device state",
				zap.String("device", p.device.Name),
				zap.Error(err))
		}
	}
}
