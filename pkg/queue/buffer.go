package queue

import (
	"container/heap"
	"context"
	"sync"
)

type item struct {
	executionID string
	priority    int
	seq         uint64
}

// itemHeap orders by priority, highest first, then by arrival.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]

	return it
}

// priorityBuffer holds received execution ids until a worker is free.
// Pushing blocks while the buffer is full.
type priorityBuffer struct {
	mu     sync.Mutex
	items  itemHeap
	queued map[string]struct{}
	seq    uint64

	slots chan struct{}
	ready chan struct{}
}

func newPriorityBuffer(capacity int) *priorityBuffer {
	return &priorityBuffer{
		queued: make(map[string]struct{}),
		slots:  make(chan struct{}, capacity),
		ready:  make(chan struct{}, 1),
	}
}

// push adds the execution unless it is already waiting. It reports whether it was added.
func (b *priorityBuffer) push(ctx context.Context, executionID string, priority int) (bool, error) {
	b.mu.Lock()
	_, duplicate := b.queued[executionID]
	b.mu.Unlock()

	if duplicate {
		return false, nil
	}

	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	b.mu.Lock()
	if _, duplicate = b.queued[executionID]; duplicate {
		b.mu.Unlock()
		<-b.slots

		return false, nil
	}

	b.seq++
	heap.Push(&b.items, item{executionID: executionID, priority: priority, seq: b.seq})
	b.queued[executionID] = struct{}{}
	b.mu.Unlock()

	b.signal()

	return true, nil
}

func (b *priorityBuffer) pop() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.items.Len() == 0 {
		return "", false
	}

	it := heap.Pop(&b.items).(item)
	delete(b.queued, it.executionID)
	<-b.slots

	if b.items.Len() > 0 {
		b.signal()
	}

	return it.executionID, true
}

// next blocks until an execution is available or ctx is done.
func (b *priorityBuffer) next(ctx context.Context) (string, bool) {
	for {
		if id, ok := b.pop(); ok {
			return id, true
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-b.ready:
		}
	}
}

func (b *priorityBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.items.Len()
}

func (b *priorityBuffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
