// ABOUTME: Lazy breadth-first traversal over the children index
// ABOUTME: A Walk is finite and single use; it never yields a node twice

package conversation

import "iter"

// Walk yields descendant ids in breadth-first order. It is not restartable.
type Walk struct {
	g       *Graph
	queue   []string
	visited map[string]struct{}
}

func (w *Walk) enqueue(id string) {
	for _, child := range w.g.children[id] {
		if _, ok := w.visited[child]; ok {
			continue
		}
		w.visited[child] = struct{}{}
		w.queue = append(w.queue, child)
	}
}

// Next returns the next descendant, or false when the walk is exhausted.
func (w *Walk) Next() (string, bool) {
	if len(w.queue) == 0 {
		return "", false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	w.enqueue(id)
	return id, true
}

// All adapts the walk for range loops. It shares the walk's position.
func (w *Walk) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			id, ok := w.Next()
			if !ok || !yield(id) {
				return
			}
		}
	}
}

// Collect drains the walk.
func (w *Walk) Collect() []string {
	var ids []string
	for id := range w.All() {
		ids = append(ids, id)
	}
	return ids
}
