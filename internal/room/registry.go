// ABOUTME: Registry of per-room workers, the single owner of all room graphs
// ABOUTME: Routes events to rooms, starts workers lazily and shuts them down

package room

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/ingest"
)

const tracerName = "github.com/2389/tool-bot/internal/room"

// Registry maps room ids to their workers.
type Registry struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	// ctx is the parent of all worker contexts; cancel aborts in-flight
	// collaborator calls when a shutdown deadline passes.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	rooms  map[string]*worker
	closed bool
	wg     sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, opts Options) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = defaultExecTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "rooms"),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*worker),
	}
}

// Dispatch queues an event for its room, starting the room if needed. It
// never waits for the event to be processed.
func (r *Registry) Dispatch(ctx context.Context, ev ingest.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	roomID := ev.Header().RoomID
	if roomID == "" {
		return fmt.Errorf("event %s has no room", ev.Header().ID)
	}

	if err := r.route(roomID, &item{ev: ev}); err != nil {
		return err
	}
	r.deps.Metrics.Queued(1)
	return nil
}

// Warm starts a room without a live event so that its history is replayed
// and unanswered messages are picked up.
func (r *Registry) Warm(roomID string) error {
	return r.route(roomID, nil)
}

// Inspect runs fn on the room's worker after everything queued before it.
// The graph must not be retained after fn returns.
func (r *Registry) Inspect(ctx context.Context, roomID string, fn func(g *conversation.Graph)) error {
	r.mu.RLock()
	w, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("inspect %s: %w", roomID, ErrUnknownRoom)
	}

	done := make(chan struct{})
	if !w.q.push(item{fn: fn, done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rooms returns the ids of started rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close stops accepting events and waits for workers to drain their queues.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	for _, w := range r.rooms {
		w.q.close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

// Shutdown is Close with a deadline. When ctx expires first, in-flight
// collaborator calls are canceled and Shutdown returns ctx's error without
// waiting further.
func (r *Registry) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

// route queues it for roomID, starting the room first when needed. The first
// item of a new room is queued before its worker starts, so backfill sees it
// as pending.
func (r *Registry) route(roomID string, it *item) error {
	r.mu.RLock()
	w, ok := r.rooms[roomID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if ok {
		if it != nil && !w.q.push(*it) {
			return ErrClosed
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if w, ok := r.rooms[roomID]; ok {
		if it != nil && !w.q.push(*it) {
			return ErrClosed
		}
		return nil
	}

	w = &worker{
		roomID: roomID,
		deps:   &r.deps,
		opts:   &r.opts,
		logger: r.logger.With("room", roomID),
		graph:  conversation.New(roomID, r.deps.BotID),
		q:      newQueue(),
		tracer: otel.Tracer(tracerName),
	}
	if it != nil {
		w.q.push(*it)
	}
	r.rooms[roomID] = w
	r.deps.Metrics.RoomStarted()
	r.logger.Info("room started", "room", roomID, "total_rooms", len(r.rooms))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.deps.Metrics.RoomStopped()
		w.run(r.ctx)
	}()
	return nil
}
