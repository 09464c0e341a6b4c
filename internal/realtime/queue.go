package realtime

import (
	"container/heap"
	"sync"

	"github.com/evmweave/indexer/pkg/models"
)

// candidateHeap orders candidates by descending block number: the
// concurrency-1 worker always drains the highest-numbered candidate
// next, so a stale low block enqueued earlier drops naturally once a
// higher one lands instead of blocking behind it.
type candidateHeap []models.LightBlock

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].Number > h[j].Number }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(models.LightBlock)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// candidateQueue is the concurrency-1 worker queue realtime sync drains
// in priority order: incoming head blocks are processed one at a time,
// highest block number first.
type candidateQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  candidateHeap
	closed bool
}

func newCandidateQueue() *candidateQueue {
	q := &candidateQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *candidateQueue) push(lb models.LightBlock) {
	q.mu.Lock()
	heap.Push(&q.items, lb)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *candidateQueue) pushAll(lbs []models.LightBlock) {
	if len(lbs) == 0 {
		return
	}
	q.mu.Lock()
	for _, lb := range lbs {
		heap.Push(&q.items, lb)
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// clear drops every pending candidate. Used when a fork is detected:
// older enqueued blocks may belong to the losing chain and must not be
// processed as if they still extend the local head.
func (q *candidateQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *candidateQueue) pop() (models.LightBlock, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return models.LightBlock{}, false
	}
	return heap.Pop(&q.items).(models.LightBlock), true
}

func (q *candidateQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
