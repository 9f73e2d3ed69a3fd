package bus

import (
	"fmt"
	"sync"
	"time"
)

// SimBus is an in-memory bus used for simulated configurations and tests.
// Events are injected with Inject and delivered through ReadEvent in order.
type SimBus struct {
	mu      sync.Mutex
	opened  bool
	started bool
	events  chan Event
}

func NewSimBus() *SimBus {
	return &SimBus{
		events: make(chan Event, 64),
	}
}

func (b *SimBus) Open(configPath, pluginPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.opened {
		return fmt.Errorf("bus already open")
	}
	b.opened = true
	return nil
}

func (b *SimBus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opened {
		return fmt.Errorf("bus not open")
	}
	b.started = true
	return nil
}

func (b *SimBus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.started = false
	return nil
}

func (b *SimBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opened {
		return fmt.Errorf("bus not open")
	}
	b.opened = false
	return nil
}

func (b *SimBus) ReadEvent(timeout time.Duration) (Event, bool) {
	select {
	case ev := <-b.events:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

// Inject queues an event for delivery. Safe to call from any goroutine.
func (b *SimBus) Inject(ev Event) {
	b.events <- ev
}
