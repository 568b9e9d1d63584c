package lifecycle

import "sync"

// submissionQueue is a thread-safe FIFO queue of submissions.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type submissionQueue struct {
	mu     sync.Mutex
	items  []Submission
	closed bool
	signal chan struct{} // buffered, size 1
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{
		items:  make([]Submission, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a submission to the back of the queue.
// Returns false if the queue is closed.
func (q *submissionQueue) Enqueue(s Submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	// buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front submission without blocking.
func (q *submissionQueue) TryDequeue() (Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Submission{}, false
	}
	s := q.items[0]
	q.items[0] = Submission{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that signals when submissions may be available.
// It is closed when the queue is closed.
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *submissionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more submissions will be enqueued.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
