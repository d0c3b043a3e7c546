// Package queue implements the per-session outbound priority queue and QoS
// retry lifecycle (C5): entries are ordered by (priority desc, nextAttemptAt
// asc), AtLeastOnce/ExactlyOnce entries move to a pending-ack map until
// acked or retried with exponential backoff, and back-pressure bounds cap
// how many entries a session may hold.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rustyeddy/astrocomm/envelope"
)

// Backoff parameters for AtLeastOnce/ExactlyOnce retry (spec §4.5).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the spec's defaults: base 1s, cap 30s, 3 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 3}
}

func (b Backoff) delay(attempts int) time.Duration {
	d := b.Base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Bounds are the soft/hard back-pressure limits (spec §5).
type Bounds struct {
	Soft int
	Hard int
}

// DefaultBounds matches the spec's defaults: soft 10000, hard 50000.
func DefaultBounds() Bounds { return Bounds{Soft: 10000, Hard: 50000} }

// entry is one queued envelope plus its retry bookkeeping.
type entry struct {
	env           *envelope.Envelope
	attempts      int
	nextAttemptAt time.Time
	ackDeadline   time.Time // set while in q.pending; zero otherwise
	index         int       // heap bookkeeping
}

// priorityHeap orders by (priority desc, nextAttemptAt asc), per spec §4.5.
type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].env.Priority != h[j].env.Priority {
		return h[i].env.Priority > h[j].env.Priority
	}
	return h[i].nextAttemptAt.Before(h[j].nextAttemptAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// FailureFunc is invoked when an entry is destroyed without success, with
// the stable error code describing why.
type FailureFunc func(env *envelope.Envelope, code string)

// lru is a bounded set of recently-completed message ids, used for
// ExactlyOnce receiver-side dedup (spec §4.5: 4096 entries per session).
type lru struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newLRU(cap int) *lru {
	return &lru{cap: cap, set: make(map[string]struct{}, cap)}
}

func (l *lru) Seen(id string) bool {
	_, ok := l.set[id]
	return ok
}

func (l *lru) Add(id string) {
	if _, ok := l.set[id]; ok {
		return
	}
	if len(l.order) >= l.cap {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.set, oldest)
	}
	l.order = append(l.order, id)
	l.set[id] = struct{}{}
}

// Queue is a per-session outbound queue. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	heap    priorityHeap
	pending map[string]*entry // messageId -> AtLeastOnce/ExactlyOnce entry awaiting ack
	dedup   *lru
	wake    chan struct{}

	backoff Backoff
	bounds  Bounds
	onFail  FailureFunc

	closed bool
}

// New builds an empty outbound queue.
func New(backoff Backoff, bounds Bounds, onFail FailureFunc) *Queue {
	return &Queue{
		pending: make(map[string]*entry),
		dedup:   newLRU(4096),
		wake:    make(chan struct{}, 1),
		backoff: backoff,
		bounds:  bounds,
		onFail:  onFail,
	}
}

// signal wakes one blocked Next call, if any; non-blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of entries currently queued (excluding those
// awaiting ack).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Enqueue adds env to the queue, applying back-pressure bounds: between the
// soft and hard bound, Low priority enqueues are rejected; above the hard
// bound, all enqueues are rejected (spec §5).
func (q *Queue) Enqueue(env *envelope.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	n := len(q.heap) + len(q.pending)
	if n >= q.bounds.Hard {
		return &BackpressureError{}
	}
	if n >= q.bounds.Soft && env.Priority == envelope.Low {
		return &BackpressureError{}
	}
	heap.Push(&q.heap, &entry{env: env, nextAttemptAt: time.Now()})
	q.signal()
	return nil
}

// Next blocks until an entry is due, the queue is closed, or stop fires,
// and returns it for the writer loop to attempt delivery. This is the
// "queue non-empty and head due" suspension point from spec §5.
func (q *Queue) Next(stop <-chan struct{}) (*envelope.Envelope, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.heap) == 0 {
			q.mu.Unlock()
			select {
			case <-stop:
				return nil, false
			case <-q.wake:
				continue
			}
		}

		top := q.heap[0]
		wait := time.Until(top.nextAttemptAt)
		if wait <= 0 {
			heap.Pop(&q.heap)
			q.mu.Unlock()
			if top.env.Expired(time.Now()) {
				q.mu.Lock()
				q.failLocked(top.env, envelope.ErrTimeout)
				q.mu.Unlock()
				continue
			}
			if top.env.QoS != envelope.AtMostOnce {
				q.mu.Lock()
				top.ackDeadline = time.Now().Add(q.backoff.delay(top.attempts))
				q.pending[top.env.MessageID] = top
				q.mu.Unlock()
			}
			return top.env, true
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return nil, false
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack completes a pending AtLeastOnce/ExactlyOnce entry matched by
// messageId, called when a Response or Error with a correlating
// originalMessageId arrives.
func (q *Queue) Ack(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.pending[messageID]; ok {
		delete(q.pending, messageID)
		if e.env.QoS == envelope.ExactlyOnce {
			q.dedup.Add(messageID)
		}
	}
}

// Seen reports whether messageId has already been completed, for
// ExactlyOnce receiver-side dedup.
func (q *Queue) Seen(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dedup.Seen(messageID)
}

// ReportResult tells the queue whether the write attempted by Next
// succeeded. On success an AtMostOnce entry is simply dropped (Ack handles
// AtLeastOnce/ExactlyOnce separately); on failure the entry is retried or
// destroyed per its QoS.
func (q *Queue) ReportResult(env *envelope.Envelope, err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if env.QoS == envelope.AtMostOnce {
		q.failLocked(env, "IO_FAILURE")
		return
	}
	e, ok := q.pending[env.MessageID]
	if !ok {
		return
	}
	delete(q.pending, env.MessageID)
	q.retryOrFailLocked(e)
}

// ExpiredAcks reports the messageIds of pending entries whose ack deadline
// (`base * 2^attempts`, spec §4.5) has elapsed as of now, for a caller-driven
// sweep to feed into Timeout.
func (q *Queue) ExpiredAcks(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for id, e := range q.pending {
		if !e.ackDeadline.IsZero() && !now.Before(e.ackDeadline) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Timeout is called by a pending-ack sweep when an entry has waited past
// its ack deadline without a matching Response/Error.
func (q *Queue) Timeout(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[messageID]
	if !ok {
		return
	}
	delete(q.pending, messageID)
	q.retryOrFailLocked(e)
}

func (q *Queue) retryOrFailLocked(e *entry) {
	e.attempts++
	if e.attempts > q.backoff.MaxAttempts {
		q.failLocked(e.env, envelope.ErrTimeout)
		return
	}
	e.nextAttemptAt = time.Now().Add(q.backoff.delay(e.attempts))
	heap.Push(&q.heap, e)
	q.signal()
}

func (q *Queue) failLocked(env *envelope.Envelope, code string) {
	if q.onFail != nil {
		q.onFail(env, code)
	}
}

// Cancel drains the queue, failing every entry (queued and pending) with
// CANCELLED, per the session-stop contract in spec §5.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, e := range q.heap {
		q.failLocked(e.env, envelope.ErrCancelled)
	}
	q.heap = nil
	for id, e := range q.pending {
		q.failLocked(e.env, envelope.ErrCancelled)
		delete(q.pending, id)
	}
	q.signal()
}

// BackpressureError is returned by Enqueue when a bound is exceeded.
type BackpressureError struct{}

func (*BackpressureError) Error() string { return "queue: " + envelope.ErrBackpressure }

// ErrClosed is returned by Enqueue once the queue has been cancelled.
var ErrClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "queue: closed" }
