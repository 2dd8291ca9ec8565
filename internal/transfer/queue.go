package transfer

import (
	"container/heap"
	"sync"
)

// queue is the dispatch queue workers pull from: highest priority first,
// FIFO within a priority level. Push wakes at most one idle worker.
type queue struct {
	mu   sync.Mutex
	h    jobHeap
	seq  uint64
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push enqueues a job id for dispatch.
func (q *queue) push(id string, priority int) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, queueItem{id: id, priority: priority, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the next job id, or false when the queue is
// empty. Non-blocking; workers wait on wakeCh between pops.
func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.h.Len() == 0 {
		return "", false
	}

	item := heap.Pop(&q.h).(queueItem)

	return item.id, true
}

// remove deletes a queued id, returning whether it was present. Used when
// a queued job is cancelled before any worker picks it up.
func (q *queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.h {
		if item.id == id {
			heap.Remove(&q.h, i)

			return true
		}
	}

	return false
}

// wakeCh is the signal channel workers select on while idle.
func (q *queue) wakeCh() <-chan struct{} {
	return q.wake
}

// len returns the number of queued ids.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.h.Len()
}

// queueItem is one heap entry. seq breaks priority ties FIFO.
type queueItem struct {
	id       string
	priority int
	seq      uint64
}

// jobHeap implements heap.Interface: max-priority, then min-seq.
type jobHeap []queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(queueItem))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
