package system

import (
	"sync"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/bus"
	"github.com/KilianBerger/OpenLabHost/internal/devices"
	"go.uber.org/zap"
)

// monitor watches the hardware bus for emergency and guard events and keeps
// an eye on battery power. It never mutates system state itself; every
// reaction is submitted to the dispatcher and runs on the main loop.
type monitor struct {
	bus        bus.Bus
	dispatcher *Dispatcher
	logger     *zap.Logger

	pollInterval    time.Duration
	readTimeout     time.Duration
	supervisorGrace time.Duration

	battery         devices.BatteryDriver
	maxWithoutPower time.Duration
	state           func() State

	// onFault and onRecover run as dispatcher tasks. requestShutdown submits
	// the shutdown; the transition and the host poweroff stay on the owning
	// goroutine.
	onFault         func(reason string)
	onRecover       func(trigger string)
	requestShutdown func(force bool)

	// Guard bookkeeping, touched only by the monitor goroutine.
	withoutPower      time.Duration
	shutdownRequested bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (m *monitor) start() {
	m.wg.Add(1)
	go m.run()
}

func (m *monitor) stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

func (m *monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.pollEvents()
			m.checkPower()
		}
	}
}

// pollEvents reads at most one event per iteration with a bounded wait, so
// the power guard below is evaluated at the loop cadence no matter how busy
// the bus is.
func (m *monitor) pollEvents() {
	ev, ok := m.bus.ReadEvent(m.readTimeout)
	if !ok {
		return
	}
	m.handle(ev)
}

func (m *monitor) handle(ev bus.Event) {
	switch {
	case ev.IsUnderVoltage():
		m.logger.Warn("DC link under voltage, stopping system",
			zap.String("device", ev.DeviceHandle),
			zap.String("message", ev.Message))
		m.submitFault("dc link under voltage")
		m.pause()

	case ev.IsHeartbeatErrOccurred():
		m.logger.Warn("Device guard heartbeat lost, stopping system",
			zap.String("device", ev.DeviceHandle))
		m.submitFault("device guard heartbeat lost")
		m.pause()

	case ev.IsHeartbeatErrResolved():
		m.logger.Info("Device guard heartbeat restored",
			zap.String("device", ev.DeviceHandle))
		m.submitRecover("device guard heartbeat restored")

	default:
		m.logger.Debug("Ignoring bus event",
			zap.Int("event", int(ev.ID)),
			zap.String("device", ev.DeviceHandle),
			zap.String("message", ev.Message))
	}
}

// pause holds the monitor goroutine after a fault so the hardware's own
// supervisory controller can settle before polling resumes. Sleeping here
// keeps the dispatcher free for queued recovery tasks.
func (m *monitor) pause() {
	if m.supervisorGrace <= 0 {
		return
	}
	select {
	case <-m.stopChan:
	case <-time.After(m.supervisorGrace):
	}
}

func (m *monitor) submitFault(reason string) {
	if err := m.dispatcher.Submit(func() { m.onFault(reason) }); err != nil {
		m.logger.Error("Failed to submit fault reaction", zap.Error(err))
	}
}

func (m *monitor) submitRecover(trigger string) {
	if err := m.dispatcher.Submit(func() { m.onRecover(trigger) }); err != nil {
		m.logger.Error("Failed to submit recovery", zap.Error(err))
	}
}

// checkPower tracks how long a stopped system has been without any power
// source and requests a forced shutdown before the battery drains completely.
// The request is made exactly once.
func (m *monitor) checkPower() {
	if m.battery == nil {
		return
	}

	if m.battery.IsConnected() || m.battery.IsSecondarySourceConnected() {
		if m.withoutPower > 0 {
			m.logger.Info("External power restored",
				zap.Duration("was_without_power", m.withoutPower),
				zap.Float64("battery_voltage", m.battery.Voltage()))
			m.withoutPower = 0
			if m.state() == StateStopped {
				m.submitRecover("external power restored")
			}
		}
		return
	}

	// The counter only accrues while the system sits in the stopped state;
	// it resets once the system is operational again.
	if m.state() != StateStopped {
		m.withoutPower = 0
		return
	}

	m.withoutPower += m.pollInterval
	if m.withoutPower < m.maxWithoutPower || m.shutdownRequested {
		return
	}

	m.shutdownRequested = true
	m.logger.Error("Stopped on battery for too long, requesting forced shutdown",
		zap.Duration("without_power", m.withoutPower),
		zap.Float64("battery_voltage", m.battery.Voltage()))
	m.requestShutdown(true)
}
