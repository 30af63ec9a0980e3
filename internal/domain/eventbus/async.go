package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"

	"voice-server-go/internal/platform/logging"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 1000
)

// Bus dispatches synchronously through EventBus or asynchronously through a
// fixed worker pool. Construct one per process and pass it explicitly.
type Bus struct {
	bus     evbus.Bus
	logger  *logging.Logger
	workers int
	queue   chan asyncEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	pending sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool
	stopMu  sync.RWMutex
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

func New(workers int, logger *logging.Logger) *Bus {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Bus{
		bus:     evbus.New(),
		logger:  logger,
		workers: workers,
		queue:   make(chan asyncEvent, defaultQueueSize),
		stopCh:  make(chan struct{}),
	}
}

func (b *Bus) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
}

// Stop lets workers finish queued events and returns once they have.
func (b *Bus) Stop() {
	b.stopMu.Lock()
	if !b.stopped.CompareAndSwap(false, true) {
		b.stopMu.Unlock()
		return
	}
	close(b.stopCh)
	b.stopMu.Unlock()

	if b.started.Load() {
		b.wg.Wait()
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.stopCh:
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev asyncEvent) {
	defer b.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorTag("BOOT", "event handler for %s panicked: %v", ev.topic, r)
		}
	}()
	b.bus.Publish(ev.topic, ev.args...)
}

// Publish runs subscribers on the caller's goroutine.
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.bus.Publish(topic, args...)
}

// PublishAsync queues the event; it reports false when the bus is stopped
// or the queue is full. Before Start it dispatches inline.
func (b *Bus) PublishAsync(topic string, args ...interface{}) bool {
	b.stopMu.RLock()
	defer b.stopMu.RUnlock()

	if b.stopped.Load() {
		b.logger.WarnTag("BOOT", "event bus stopped, dropping %s", topic)
		return false
	}
	if !b.started.Load() {
		b.pending.Add(1)
		b.dispatch(asyncEvent{topic: topic, args: args})
		return true
	}

	b.pending.Add(1)
	select {
	case b.queue <- asyncEvent{topic: topic, args: args}:
		return true
	default:
		b.pending.Done()
		b.logger.WarnTag("BOOT", "event queue full, dropping %s", topic)
		return false
	}
}

func (b *Bus) Subscribe(topic string, fn interface{}) error {
	if err := b.bus.Subscribe(topic, fn); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

func (b *Bus) HasCallback(topic string) bool {
	return b.bus.HasCallback(topic)
}

// Wait blocks until every queued event has been handled.
func (b *Bus) Wait() {
	b.pending.Wait()
}
