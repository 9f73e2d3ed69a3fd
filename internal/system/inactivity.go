package system

import (
	"sync"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/devices"
	"github.com/KilianBerger/OpenLabHost/internal/rpc"
	"go.uber.org/zap"
)

// inactivityGuard requests a graceful shutdown when clients have gone
// silent for too long while the system runs on battery. On mains or
// secondary power it stays passive so a bench setup never powers itself off.
type inactivityGuard struct {
	traffic *rpc.TrafficMonitor
	battery devices.BatteryDriver

	checkInterval time.Duration
	logger        *zap.Logger

	// requestShutdown submits the shutdown; the transition and the host
	// poweroff stay on the owning goroutine.
	requestShutdown func(force bool)

	requested bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (g *inactivityGuard) start() {
	g.wg.Add(1)
	go g.run()
}

func (g *inactivityGuard) stop() {
	g.stopOnce.Do(func() { close(g.stopChan) })
	g.wg.Wait()
}

func (g *inactivityGuard) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			g.check()
		}
	}
}

func (g *inactivityGuard) check() {
	if g.requested || g.battery == nil {
		return
	}
	if g.battery.IsSecondarySourceConnected() {
		return
	}
	if !g.traffic.Expired() {
		return
	}

	g.requested = true
	g.logger.Warn("No client traffic on battery power, requesting shutdown",
		zap.Time("deadline", g.traffic.Deadline()))
	g.requestShutdown(false)
}
