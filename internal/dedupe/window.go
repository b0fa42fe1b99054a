// ABOUTME: Bounded, expiring set of (room, event id) pairs seen from sync
// ABOUTME: Filters redelivered homeserver events ahead of the room workers

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type key struct {
	room  string
	event string
}

type entry struct {
	key  key
	seen time.Time
}

// Window remembers recently observed events.
type Window struct {
	mu      sync.Mutex
	index   map[key]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a window that forgets events after ttl and holds at most
// maxSize of them. A background goroutine sweeps expired entries once a
// minute until Close is called.
func New(ttl time.Duration, maxSize int) *Window {
	w := newWindow(ttl, maxSize, time.Now)
	go w.sweepLoop(time.Minute)
	return w
}

func newWindow(ttl time.Duration, maxSize int, now func() time.Time) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Window{
		index:   make(map[key]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Observe records the event and reports whether it was already in the window.
func (w *Window) Observe(roomID, eventID string) bool {
	k := key{room: roomID, event: eventID}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[k]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < w.ttl {
			return true
		}
		// Expired; treat as new and refresh its position.
		e.seen = now
		w.order.MoveToBack(el)
		return false
	}

	for len(w.index) >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.index[k] = w.order.PushBack(&entry{key: k, seen: now})
	return false
}

// Contains reports whether the event is in the window without recording it.
func (w *Window) Contains(roomID, eventID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.index[key{room: roomID, event: eventID}]
	if !ok {
		return false
	}
	return w.now().Sub(el.Value.(*entry).seen) < w.ttl
}

// Len returns the number of remembered events, including expired ones not
// yet swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.index, el.Value.(*entry).key)
}

// sweep drops expired entries. Entries are ordered by last observation, so
// it stops at the first live one.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for el := w.order.Front(); el != nil; {
		if now.Sub(el.Value.(*entry).seen) < w.ttl {
			return
		}
		next := el.Next()
		w.removeLocked(el)
		el = next
	}
}

func (w *Window) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (w *Window) Close() {
	w.stopOnce.Do(func() { close(w.done) })
}
