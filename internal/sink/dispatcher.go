package sink

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shortontech/crawlwatch/internal/event"
)

// Recorder receives delivery metrics. *metrics.Metrics implements it.
type Recorder interface {
	IncrementEventsIngested(sink string)
	IncrementSinkErrors(sink, errorType string)
	IncrementEventsDropped(reason string)
	SetQueueDepth(sink string, depth float64)
	ObserveBatchFlushLatency(sink string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) IncrementEventsIngested(string)                 {}
func (nopRecorder) IncrementSinkErrors(string, string)             {}
func (nopRecorder) IncrementEventsDropped(string)                  {}
func (nopRecorder) SetQueueDepth(string, float64)                  {}
func (nopRecorder) ObserveBatchFlushLatency(string, time.Duration) {}

const dispatcherQueue = "dispatcher"

// Dispatcher fans events out to sinks from a single background goroutine.
// Emit never blocks the request path: when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	sinks []Sink
	queue chan event.Event
	rec   Recorder

	mu     sync.RWMutex
	closed bool
	start  sync.Once
	wg     sync.WaitGroup
}

func NewDispatcher(sinks []Sink, queueSize int, rec Recorder) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Dispatcher{
		sinks: sinks,
		queue: make(chan event.Event, queueSize),
		rec:   rec,
	}
}

// Start launches the delivery goroutine. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.start.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

// Emit queues e for delivery and reports whether it was accepted.
func (d *Dispatcher) Emit(e event.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.rec.IncrementEventsDropped("closed")
		return false
	}
	select {
	case d.queue <- e:
		d.rec.SetQueueDepth(dispatcherQueue, float64(len(d.queue)))
		return true
	default:
		d.rec.IncrementEventsDropped("queue_full")
		log.Printf("dispatcher: queue full, dropping event %s", e.EventID)
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		d.deliver(e)
		d.rec.SetQueueDepth(dispatcherQueue, float64(len(d.queue)))
	}
}

func (d *Dispatcher) deliver(e event.Event) {
	for _, s := range d.sinks {
		start := time.Now()
		err := d.enqueue(s, e)
		d.rec.ObserveBatchFlushLatency(s.Name(), time.Since(start))
		if err != nil {
			log.Printf("dispatcher: sink %s failed for event %s: %v", s.Name(), e.EventID, err)
			d.rec.IncrementSinkErrors(s.Name(), "enqueue")
			continue
		}
		d.rec.IncrementEventsIngested(s.Name())
	}
}

// enqueue isolates the worker from a panicking sink.
func (d *Dispatcher) enqueue(s Sink, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Enqueue(e)
}

// Close stops accepting events, drains the queue and closes every sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.Start() // drain events queued before Start was ever called
	d.wg.Wait()

	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
