package status

import "sync"

// SubscriberID identifies one registered subscriber. Ids are minted by the
// hub, increase monotonically and are never reused within a hub's lifetime.
type SubscriberID uint64

// Queue is a subscriber's bounded outbound event queue. The owning
// connection reads from C and calls Close when it goes away; publishers
// only ever TrySend, so a slow or departed subscriber never blocks them.
type Queue struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding up to size undelivered events.
func NewQueue(size int) *Queue {
	return &Queue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Event { return q.ch }

// Done is closed once Close has been called.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Close marks the queue as abandoned. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// TrySend enqueues ev without blocking. It reports false if the queue is
// closed or full; publishers then drop the subscriber and Close the queue.
func (q *Queue) TrySend(ev Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}
