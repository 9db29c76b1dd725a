package relay

import (
	"sync"
	"sync/atomic"
)

// messageQueue is a bounded FIFO of pending messages for one participant.
//
// Any number of senders may Enqueue concurrently; exactly one delivery
// stream consumes via Drain. Enqueue never blocks: when the queue is full
// the oldest message is dropped so the consumer always sees the most recent
// signaling state.
type messageQueue struct {
	mu     sync.Mutex
	closed bool

	maxMessages int
	msgs        []Message

	wake chan struct{}

	drops atomic.Uint64
}

func newMessageQueue(maxMessages int) *messageQueue {
	if maxMessages <= 0 {
		maxMessages = DefaultConfig().MaxQueuedMessagesPerParticipant
	}
	return &messageQueue{
		maxMessages: maxMessages,
		wake:        make(chan struct{}, 1),
	}
}

func (q *messageQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends msg to the tail and wakes the bound stream, if any.
// dropped reports that a message was lost: either msg itself (queue already
// closed) or the evicted head (queue full).
func (q *messageQueue) Enqueue(msg Message) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.drops.Add(1)
		return true
	}
	if len(q.msgs) >= q.maxMessages {
		copy(q.msgs, q.msgs[1:])
		q.msgs = q.msgs[:len(q.msgs)-1]
		q.drops.Add(1)
		dropped = true
	}
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()

	q.notify()
	return dropped
}

// Drain atomically removes and returns everything currently queued, in
// enqueue order. closed reports whether the queue has been shut down (the
// participant left); a closed queue always drains empty.
func (q *messageQueue) Drain() (msgs []Message, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs = q.msgs
	q.msgs = nil
	return msgs, q.closed
}

// Wake returns a channel that receives after each Enqueue and once on Close.
func (q *messageQueue) Wake() <-chan struct{} {
	return q.wake
}

func (q *messageQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.msgs = nil
	q.mu.Unlock()

	q.notify()
}

func (q *messageQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
