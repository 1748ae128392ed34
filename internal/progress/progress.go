// Package progress fans out per-job ProgressEvents to subscribers through
// bounded, drop-oldest queues so a slow consumer never blocks the
// scheduler.
package progress

import (
	"sync"
	"time"
)

// Kind tags the variant of an Event.
type Kind int

const (
	KindProgress Kind = iota
	KindResult
	KindError
	KindHeartbeat
)

// Event is one entry in a job's progress stream. Every event carries the
// job id and a monotonically increasing per-job sequence number.
type Event struct {
	JobID    string
	Seq      uint64
	Kind     Kind
	Percent  int
	Phase    string
	Message  string
	ErrKind  string
	Terminal bool
}

const (
	// defaultQueueDepth is the default bounded size of a subscriber's queue.
	defaultQueueDepth = 64

	// defaultIdleTimeout is the idle window reported by IdleTimeout. The Bus
	// only stores it; it does not close idle subscriptions itself.
	defaultIdleTimeout = 300 * time.Second

	// globalBroadcastDepth sizes the Janitor telemetry channel.
	globalBroadcastDepth = 256
)

// Subscription is a bounded, drop-oldest view onto one job's events.
type Subscription struct {
	jobID string
	ch    chan Event

	mu              sync.Mutex
	heartbeatLosses uint64
	closed          bool
}

// Events returns the read-only channel of delivered events.
func (s *Subscription) Events() <-chan Event { return s.ch }

// HeartbeatLossCounter reports how many events were dropped because the
// subscriber's queue was full.
func (s *Subscription) HeartbeatLossCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeatLosses
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// Queue full: drop the oldest in-flight event to make room. This
		// is best-effort since another goroutine may drain concurrently;
		// worst case we skip this push, which still bounds memory and
		// still counts as a loss.
		select {
		case <-s.ch:
			s.heartbeatLosses++
		default:
		}
		select {
		case s.ch <- e:
		default:
			s.heartbeatLosses++
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus fans out events per job_id to any number of subscribers, plus one
// global broadcast channel for Janitor telemetry.
type Bus struct {
	mu          sync.Mutex
	subs        map[string][]*Subscription
	seq         map[string]uint64
	jobLocks    map[string]*sync.Mutex
	queueDepth  int
	idleTimeout time.Duration
	broadcast   chan Event
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueDepth overrides the default per-subscriber queue depth.
func WithQueueDepth(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueDepth = n
		}
	}
}

// WithIdleTimeout overrides the default idle window reported by IdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.idleTimeout = d
		}
	}
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[string][]*Subscription),
		seq:         make(map[string]uint64),
		jobLocks:    make(map[string]*sync.Mutex),
		queueDepth:  defaultQueueDepth,
		idleTimeout: defaultIdleTimeout,
		broadcast:   make(chan Event, globalBroadcastDepth),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscription for jobID. The subscription is
// released automatically once a terminal event (Result or Error) has been
// delivered for that job — callers do not need to call Unsubscribe in that
// case, though they may for early disconnects.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := &Subscription{jobID: jobID, ch: make(chan Event, b.queueDepth)}

	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], sub)
	b.mu.Unlock()

	return sub
}

// Unsubscribe drops sub early, e.g. when the consumer disconnects before
// the job terminates. A subscription is a weak relation: this is a no-op
// if it was already released.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
	sub.close()
}

func (b *Bus) removeLocked(sub *Subscription) {
	list := b.subs[sub.jobID]
	for i, s := range list {
		if s == sub {
			b.subs[sub.jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.jobID]) == 0 {
		delete(b.subs, sub.jobID)
	}
}

// Publish emits e to every subscriber of e.JobID, stamping its sequence
// number, and to the global broadcast channel. If e is terminal (Result or
// Error), every subscription for that job is released after delivery.
//
// Stamping and delivery for a single job_id are serialized by a per-job
// lock: the engine's chunk pool can call Publish concurrently for the same
// job (one goroutine per in-flight chunk), and without this lock two
// concurrent calls could assign sequence numbers in one order but deliver
// to subscriber queues in the other, breaking the per-job ordering
// guarantee.
func (b *Bus) Publish(e Event) {
	jobMu := b.jobLock(e.JobID)
	jobMu.Lock()
	defer jobMu.Unlock()

	b.mu.Lock()
	b.seq[e.JobID]++
	e.Seq = b.seq[e.JobID]
	subs := append([]*Subscription(nil), b.subs[e.JobID]...)
	terminal := e.Kind == KindResult || e.Kind == KindError
	if terminal {
		delete(b.subs, e.JobID)
		delete(b.seq, e.JobID)
		delete(b.jobLocks, e.JobID)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(e)
		if terminal {
			sub.close()
		}
	}

	select {
	case b.broadcast <- e:
	default:
		// Global broadcast is telemetry-only; drop rather than block.
	}
}

// jobLock returns the per-job serialization lock for jobID, creating it on
// first use.
func (b *Bus) jobLock(jobID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.jobLocks[jobID]
	if !ok {
		m = &sync.Mutex{}
		b.jobLocks[jobID] = m
	}
	return m
}

// Broadcast returns the read-only global event channel, used by the
// Janitor to observe sweep telemetry alongside per-job events.
func (b *Bus) Broadcast() <-chan Event { return b.broadcast }

// IdleTimeout returns the configured subscriber idle window. Nothing in the
// Bus closes a subscription when this window passes without activity.
func (b *Bus) IdleTimeout() time.Duration { return b.idleTimeout }
