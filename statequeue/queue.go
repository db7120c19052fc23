package statequeue

// Queue is the FIFO of pending entries. It is owned by a single goroutine
// and does no locking.
type Queue struct {
	entries []*Entry
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(e *Entry) {
	q.entries = append(q.entries, e)
}

func (q *Queue) Size() int {
	return len(q.entries)
}

func (q *Queue) IsEmpty() bool {
	return len(q.entries) == 0
}

// PeekHead returns the oldest entry. It panics on an empty queue.
func (q *Queue) PeekHead() *Entry {
	if len(q.entries) == 0 {
		panic("statequeue: PeekHead on empty queue")
	}
	return q.entries[0]
}

// RemoveHead drops the oldest entry. It panics on an empty queue.
func (q *Queue) RemoveHead() {
	if len(q.entries) == 0 {
		panic("statequeue: RemoveHead on empty queue")
	}
	q.entries[0] = nil
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = nil
	}
}
