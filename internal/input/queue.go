package input

import "sync"

// Queue is a thread-safe FIFO of actions. Producers push from any goroutine;
// the engine drains once per tick.
type Queue struct {
	mu     sync.Mutex
	items  []Action
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		items:  make([]Action, 0),
		notify: make(chan struct{}, 1),
	}
}

// Push appends actions in order. None is skipped.
func (q *Queue) Push(actions ...Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range actions {
		if a != None {
			q.items = append(q.items, a)
		}
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain returns every action pushed since the last drain, oldest first, and
// empties the queue.
func (q *Queue) Drain() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]Action, 0, cap(q.items))
	return result
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled after a push. It coalesces, so a receive means at least
// one push happened since the last receive.
func (q *Queue) Ready() <-chan struct{} { return q.notify }
