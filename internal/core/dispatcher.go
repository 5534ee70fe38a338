package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Consumer receives dispatched events. Consume is called from a single
// goroutine per consumer per session, so each consumer observes one session's
// events in sequence order without its own locking.
type Consumer interface {
	Name() string
	Consume(ev *Event)
}

type consumerFunc struct {
	name string
	fn   func(*Event)
}

func (c consumerFunc) Name() string      { return c.name }
func (c consumerFunc) Consume(ev *Event) { c.fn(ev) }

// ConsumerFunc wraps a plain function as a named Consumer.
func ConsumerFunc(name string, fn func(*Event)) Consumer {
	return consumerFunc{name: name, fn: fn}
}

type consumerQueue struct {
	consumer Consumer
	ch       chan *Event
	dropped  atomic.Uint64
}

// Dispatcher fans one session's inbound events out to every registered
// consumer. Dispatch never blocks: each consumer gets its own bounded queue,
// and when a queue is full the oldest pending event for that consumer alone
// is dropped and counted. Cross-consumer isolation means a stuck webhook
// queue cannot stall persistence or the broadcaster.
type Dispatcher struct {
	instanceID string
	seq        atomic.Uint64
	queues     []*consumerQueue
	wg         sync.WaitGroup
	log        zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewDispatcher starts one drain goroutine per consumer. buffer is the
// per-consumer queue depth.
func NewDispatcher(instanceID string, consumers []Consumer, buffer int, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		instanceID: instanceID,
		log:        log.With().Str("instance_id", instanceID).Logger(),
	}
	for _, c := range consumers {
		q := &consumerQueue{consumer: c, ch: make(chan *Event, buffer)}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.drain(q)
	}
	return d
}

func (d *Dispatcher) drain(q *consumerQueue) {
	defer d.wg.Done()
	for ev := range q.ch {
		q.consumer.Consume(ev)
	}
}

// Dispatch stamps the event with the next sequence number and pushes it to
// every consumer queue. Returns the dispatched event.
func (d *Dispatcher) Dispatch(kind EventKind, payload map[string]any) *Event {
	ev := &Event{
		InstanceID: d.instanceID,
		Seq:        d.seq.Add(1),
		Kind:       kind,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ev
	}
	for _, q := range d.queues {
		select {
		case q.ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest pending event for this consumer.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
		select {
		case q.ch <- ev:
		default:
			// Drained concurrently and refilled; count the new event instead.
			q.dropped.Add(1)
			d.log.Warn().Str("consumer", q.consumer.Name()).Uint64("seq", ev.Seq).
				Msg("consumer queue full, event dropped")
		}
	}
	d.mu.Unlock()
	return ev
}

// Seq returns the last assigned sequence number.
func (d *Dispatcher) Seq() uint64 {
	return d.seq.Load()
}

// Dropped returns per-consumer dropped event counts.
func (d *Dispatcher) Dropped() map[string]uint64 {
	out := make(map[string]uint64, len(d.queues))
	for _, q := range d.queues {
		out[q.consumer.Name()] = q.dropped.Load()
	}
	return out
}

// Close stops accepting events and waits for the drain goroutines to finish
// delivering what is already queued.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
