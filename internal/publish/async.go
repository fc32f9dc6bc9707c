package publish

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bdougie/plantcam/internal/models"
)

// DefaultQueueSize bounds the events waiting for a slow publisher
const DefaultQueueSize = 64

// Async hands events to a background goroutine so callers never wait on the network.
// Events that arrive while the queue is full are dropped.
type Async struct {
	next   Publisher
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan func()
	done    chan struct{}
	dropped atomic.Int64
}

var _ Publisher = (*Async)(nil)

// NewAsync starts the goroutine that forwards events to next
func NewAsync(next Publisher, queueSize int, logger *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		logger: logger,
		events: make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for fn := range a.events {
		fn()
	}
}

func (a *Async) enqueue(fn func()) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- fn:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.logger.Debug("publisher is behind, dropping events", "dropped", n)
		}
	}
}

func (a *Async) PublishScale(sample models.WorldDistanceSample) {
	a.enqueue(func() { a.next.PublishScale(sample) })
}

func (a *Async) PublishClassification(guess models.BestGuess) {
	a.enqueue(func() { a.next.PublishClassification(guess) })
}

func (a *Async) PublishBurst(burst string, snapshots int) {
	a.enqueue(func() { a.next.PublishBurst(burst, snapshots) })
}

// Dropped returns how many events were discarded because the queue was full
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits for the queued ones to be sent
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()
	<-a.done
}
