package system

import (
	"errors"
	"time"
)

// Task is a unit of work executed on the dispatcher's owning goroutine.
type Task func()

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher funnels tasks from any goroutine onto the single goroutine that
// drains it. Background guards never touch system state directly; they submit
// tasks here and the main loop runs them in submission order.
type Dispatcher struct {
	tasks chan Task
	done  chan struct{}
}

func NewDispatcher(capacity int) *Dispatcher {
	return &Dispatcher{
		tasks: make(chan Task, capacity),
		done:  make(chan struct{}),
	}
}

// Submit queues a task for the owning goroutine. Blocks when the queue is
// full, fails once the dispatcher is closed.
func (d *Dispatcher) Submit(task Task) error {
	select {
	case <-d.done:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.tasks <- task:
		return nil
	case <-d.done:
		return ErrDispatcherClosed
	}
}

// RunOnce executes the next queued task, waiting up to timeout for one to
// arrive. Returns false when the wait timed out or the dispatcher is closed.
// Must only be called from the owning goroutine.
func (d *Dispatcher) RunOnce(timeout time.Duration) bool {
	select {
	case task := <-d.tasks:
		task()
		return true
	case <-d.done:
		return false
	case <-time.After(timeout):
		return false
	}
}

// Drain runs all currently queued tasks without waiting.
func (d *Dispatcher) Drain() {
	for {
		select {
		case task := <-d.tasks:
			task()
		default:
			return
		}
	}
}

// Close wakes blocked submitters and consumers. Queued tasks stay runnable
// via Drain.
func (d *Dispatcher) Close() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
}
