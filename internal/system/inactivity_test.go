package system

import (
	"testing"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/devices"
	"github.com/KilianBerger/OpenLabHost/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGuardFixture(t *testing.T, battery devices.BatteryDriver, window time.Duration) (*inactivityGuard, *rpc.TrafficMonitor, *shutdownRecorder) {
	t.Helper()

	traffic := rpc.NewTrafficMonitor(window)
	shutdowns := &shutdownRecorder{}
	guard := &inactivityGuard{
		traffic:       traffic,
		battery:       battery,
		checkInterval: 5 * time.Millisecond,
		logger:        zap.NewNop(),
		requestShutdown: func(force bool) {
			shutdowns.mu.Lock()
			shutdowns.requests = append(shutdowns.requests, force)
			shutdowns.mu.Unlock()
		},
		stopChan: make(chan struct{}),
	}
	guard.start()
	t.Cleanup(guard.stop)
	return guard, traffic, shutdowns
}

func TestInactivityRequestsShutdownOnSilentBatterySystem(t *testing.T) {
	battery := devices.NewSimBatteryDriver()
	battery.SetPower(false, false)

	_, _, shutdowns := newGuardFixture(t, battery, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(shutdowns.Requests()) == 1
	}, time.Second, 5*time.Millisecond)

	// Stays at one even though the window remains expired.
	time.Sleep(50 * time.Millisecond)
	requests := shutdowns.Requests()
	require.Len(t, requests, 1)
	assert.False(t, requests[0], "inactivity shutdown is graceful")
}

func TestInactivityResetByTraffic(t *testing.T) {
	battery := devices.NewSimBatteryDriver()
	battery.SetPower(false, false)

	_, traffic, shutdowns := newGuardFixture(t, battery, 40*time.Millisecond)

	// Keep touching within the window; no shutdown may fire.
	for range 10 {
		traffic.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, shutdowns.Requests())
}

func TestInactivityIdleOnSecondaryPower(t *testing.T) {
	battery := devices.NewSimBatteryDriver()
	battery.SetPower(false, true)

	_, _, shutdowns := newGuardFixture(t, battery, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, shutdowns.Requests())
}

func TestInactivityIdleWithoutBattery(t *testing.T) {
	_, _, shutdowns := newGuardFixture(t, nil, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, shutdowns.Requests())
}
