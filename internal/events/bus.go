package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

// Config holds bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns a single-worker bus so consumers see events in publish order
func DefaultConfig() Config {
	return Config{BufferSize: 64, Workers: 1}
}

// Bus delivers events to consumers on background workers. Publishing never blocks:
// events are dropped when the buffer is full.
type Bus struct {
	eventChan chan ModelEvent
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []Consumer

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64

	log logger.Logger
}

// NewBus creates a bus. Workers start with the first registered consumer.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		eventChan: make(chan ModelEvent, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
		log:       GetLogger(),
	}
}

// RegisterConsumer adds a consumer
func (b *Bus) RegisterConsumer(c Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("consumer %s already registered", c.Name())
		}
	}
	b.consumers = append(b.consumers, c)
	b.log.Info("registered event consumer", logger.String("consumer", c.Name()))

	if len(b.consumers) == 1 {
		b.start()
	}
	return nil
}

// TryPublish queues event without blocking. It returns false when the event was dropped or
// nobody is listening.
func (b *Bus) TryPublish(event ModelEvent) bool {
	if b == nil || !b.running.Load() {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventChan <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Debug("event dropped due to full buffer", logger.String("kind", string(event.Kind)))
		return false
	}
}

func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}
	for i := range b.workers {
		b.wg.Go(func() { b.worker(i) })
	}
}

func (b *Bus) worker(id int) {
	log := b.log.With(logger.Int("worker_id", id))
	for {
		select {
		case <-b.ctx.Done():
			b.drain(log)
			return
		case event := <-b.eventChan:
			b.processEvent(event, log)
		}
	}
}

// drain delivers whatever is still buffered at shutdown
func (b *Bus) drain(log logger.Logger) {
	for {
		select {
		case event := <-b.eventChan:
			b.processEvent(event, log)
		default:
			return
		}
	}
}

func (b *Bus) processEvent(event ModelEvent, log logger.Logger) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.errors.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", c.Name()),
						logger.Any("panic", r))
				}
			}()
			if err := c.ProcessEvent(event); err != nil {
				b.errors.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", c.Name()),
					logger.String("kind", string(event.Kind)),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events, delivers buffered ones and waits for workers
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		b.log.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// Stats returns the bus counters
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		EventsReceived:  b.received.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errors.Load(),
	}
}
