package outbox

import (
	"sync"
)

// messageQueue is a thread-safe bounded FIFO of pending notifications.
//
// Appenders enqueue from any goroutine; dispatcher workers dequeue. The
// queue uses a channel for signaling so workers can wait on it alongside
// ctx.Done().
type messageQueue struct {
	mu       sync.Mutex
	messages []Message
	capacity int
	closed   bool
	signal   chan struct{} // Signals message availability (buffered, size 1)
}

// newMessageQueue creates an empty queue holding at most capacity messages.
func newMessageQueue(capacity int) *messageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &messageQueue{
		messages: make([]Message, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the queue.
// Returns false if the queue is closed or full.
func (q *messageQueue) Enqueue(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.messages) >= q.capacity {
		return false
	}

	q.messages = append(q.messages, m)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front message without blocking.
// Returns (Message{}, false) if the queue is empty.
func (q *messageQueue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false
	}

	m := q.messages[0]
	q.messages[0] = Message{}

	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}

	return m, true
}

// Wait returns a channel that signals when messages may be available.
// The channel is closed by Close.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Closed reports whether Close was called.
func (q *messageQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes every waiter.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
