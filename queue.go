package msgnet

import "sync"

// Queue is a double-ended queue safe for use by multiple producers and
// consumers. Pushes never block; the blocking pops suspend the caller until
// an item is available.
type Queue[E any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []E
}

// NewQueue returns an empty queue.
func NewQueue[E any]() *Queue[E] {
	q := &Queue[E]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// PushBack appends item and wakes one blocked consumer.
func (q *Queue[E]) PushBack(item E) {
	q.pushBackLen(item)
}

// PushFront prepends item and wakes one blocked consumer.
func (q *Queue[E]) PushFront(item E) {
	q.mu.Lock()
	q.items = append(q.items, item)
	copy(q.items[1:], q.items)
	q.items[0] = item
	q.mu.Unlock()

	q.cond.Signal()
}

// PopFront removes and returns the front item, blocking while the queue is empty.
func (q *Queue[E]) PopFront() E {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}
	return q.takeFront()
}

// PopBack removes and returns the back item, blocking while the queue is empty.
func (q *Queue[E]) PopBack() E {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}
	return q.takeBack()
}

// TryPopFront removes and returns the front item if there is one.
func (q *Queue[E]) TryPopFront() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero E
		return zero, false
	}
	return q.takeFront(), true
}

// TryPopBack removes and returns the back item if there is one.
func (q *Queue[E]) TryPopBack() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero E
		return zero, false
	}
	return q.takeBack(), true
}

// Front returns the front item without removing it.
func (q *Queue[E]) Front() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero E
		return zero, false
	}
	return q.items[0], true
}

// Back returns the back item without removing it.
func (q *Queue[E]) Back() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero E
		return zero, false
	}
	return q.items[len(q.items)-1], true
}

// Empty reports whether the queue holds no items.
func (q *Queue[E]) Empty() bool {
	return q.Count() == 0
}

// Count returns the number of queued items.
func (q *Queue[E]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued item. Blocked consumers keep waiting.
func (q *Queue[E]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.items)
	q.items = q.items[:0]
}

// Wait blocks until the queue holds at least one item.
func (q *Queue[E]) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}
	// Wait consumed a wakeup without taking an item; hand it on.
	q.cond.Signal()
}

// pushBackLen appends item and returns the queue length before the push.
func (q *Queue[E]) pushBackLen(item E) int {
	q.mu.Lock()
	n := len(q.items)
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.cond.Signal()
	return n
}

// dropFront discards the front item and returns how many remain.
func (q *Queue[E]) dropFront() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		q.takeFront()
	}
	return len(q.items)
}

func (q *Queue[E]) takeFront() E {
	item := q.items[0]
	var zero E
	q.items[0] = zero
	q.items = q.items[1:]
	return item
}

func (q *Queue[E]) takeBack() E {
	last := len(q.items) - 1
	item := q.items[last]
	var zero E
	q.items[last] = zero
	q.items = q.items[:last]
	return item
}
