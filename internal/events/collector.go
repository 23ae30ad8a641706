package events

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxHistory caps the collector buffer to guard against misconfiguration.
const MaxHistory uint32 = 1 << 16

// CollectorMetrics counts collected events.
type CollectorMetrics struct {
	Collected   int64
	Overwritten int64
	Errors      int64
}

// Collector drains an event channel into an overlapped ring buffer that keeps
// the most recent events. All methods are safe for concurrent use.
type Collector struct {
	in      <-chan Event
	buffer  mpmc.RichOverlappedRingBuffer[Event]
	onError func(error)
	metrics CollectorMetrics

	mtx     sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCollector keeps up to history events read from in. onError receives buffer
// failures; nil discards them.
func NewCollector(in <-chan Event, history uint32, onError func(error)) (*Collector, error) {
	if in == nil {
		return nil, fmt.Errorf("event channel cannot be nil")
	}
	if history == 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if history > MaxHistory {
		return nil, fmt.Errorf("history size %d exceeds maximum %d", history, MaxHistory)
	}
	if onError == nil {
		onError = func(error) {}
	}

	return &Collector{
		in:      in,
		buffer:  mpmc.NewOverlappedRingBuffer[Event](history),
		onError: onError,
	}, nil
}

// Start begins collecting until Stop is called or the input channel closes.
func (c *Collector) Start() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.running {
		return fmt.Errorf("collector is already running")
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.collect(c.stop, c.done)
	return nil
}

func (c *Collector) collect(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-c.in:
			if !ok {
				return
			}
			c.add(ev)
		}
	}
}

func (c *Collector) add(ev Event) {
	overwrites, err := c.buffer.EnqueueM(ev)
	if err != nil {
		atomic.AddInt64(&c.metrics.Errors, 1)
		c.onError(fmt.Errorf("event buffer enqueue: %w", err))
		return
	}
	atomic.AddInt64(&c.metrics.Overwritten, int64(overwrites))
	atomic.AddInt64(&c.metrics.Collected, 1)
}

// Stop halts collection, then moves whatever is still queued on the input
// channel into the buffer. Stopping a stopped collector is a no-op.
func (c *Collector) Stop() {
	c.mtx.Lock()
	if !c.running {
		c.mtx.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mtx.Unlock()

	<-done

	for {
		select {
		case ev, ok := <-c.in:
			if !ok {
				return
			}
			c.add(ev)
		default:
			return
		}
	}
}

// Metrics returns a snapshot of the counters.
func (c *Collector) Metrics() CollectorMetrics {
	return CollectorMetrics{
		Collected:   atomic.LoadInt64(&c.metrics.Collected),
		Overwritten: atomic.LoadInt64(&c.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&c.metrics.Errors),
	}
}

// ConsumerFunc consumes buffered events one at a time. A nil event signals the
// end of the buffer; the consumer then returns its final result. Returning done
// stops consumption early with result.
type ConsumerFunc[T any] func(ev *Event) (result T, done bool, err error)

// Consume drains the buffer into consumer, oldest event first.
func Consume[T any](c *Collector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		ev, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("event buffer dequeue: %w", err)
		}

		result, done, err := consumer(&ev)
		if err != nil || done {
			return result, err
		}
	}

	result, _, err := consumer(nil)
	return result, err
}

// TranscriptConsumerFunc renders events as one line each.
func TranscriptConsumerFunc() ConsumerFunc[string] {
	var b strings.Builder
	return func(ev *Event) (string, bool, error) {
		if ev == nil {
			return b.String(), true, nil
		}
		b.WriteString(ev.String())
		b.WriteByte('\n')
		return "", false, nil
	}
}

// Transcript drains the buffer into a line-per-event transcript.
func (c *Collector) Transcript() (string, error) {
	return Consume(c, TranscriptConsumerFunc())
}
