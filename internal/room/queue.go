// ABOUTME: Unbounded FIFO queue feeding a room worker
// ABOUTME: Carries events and barrier functions; pop blocks until work or close

package room

import (
	"sync"

	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/ingest"
)

// item is either an event or a function to run against the graph.
type item struct {
	ev   ingest.Event
	fn   func(*conversation.Graph)
	done chan struct{}
}

type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []item
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an item. It returns false after close.
func (q *queue) push(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, it)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available. It returns false once the queue is
// closed and drained.
func (q *queue) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	return it, true
}

// pendingIDs returns the ids of queued events.
func (q *queue) pendingIDs() map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make(map[string]struct{}, len(q.items))
	for _, it := range q.items {
		if it.ev != nil {
			ids[it.ev.Header().ID] = struct{}{}
		}
	}
	return ids
}

// close stops accepting items. Queued items are still delivered.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
