// ABOUTME: Sync loop that feeds homeserver events to the room registry
// ABOUTME: Filters rooms, drops repeats, handles invites and leaves empty rooms

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/tool-bot/internal/dedupe"
	"github.com/2389/tool-bot/internal/ingest"
)

// Sink receives normalized events. room.Registry satisfies it.
type Sink interface {
	Dispatch(ctx context.Context, ev ingest.Event) error
	Warm(roomID string) error
}

// TransportOptions configure a Transport.
type TransportOptions struct {
	// AllowedRooms restricts the bot to these room ids. Empty allows all.
	AllowedRooms []string

	// DefaultTopic is set on joined rooms without a topic when SeedTopic is true.
	DefaultTopic string
	SeedTopic    bool

	// OnReady is called when sync readiness changes.
	OnReady func(ready bool)
}

// Transport runs the sync loop.
type Transport struct {
	client  *mautrix.Client
	sink    Sink
	seen    *dedupe.Window
	prompts *Prompts
	opts    TransportOptions
	logger  *slog.Logger

	ready atomic.Bool
}

// NewTransport creates a transport. seen may be nil to disable the dedupe
// window.
func NewTransport(client *mautrix.Client, sink Sink, seen *dedupe.Window, opts TransportOptions, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		client:  client,
		sink:    sink,
		seen:    seen,
		prompts: NewPrompts(client),
		opts:    opts,
		logger:  logger.With("component", "transport"),
	}
}

// Ready reports whether the first sync completed.
func (t *Transport) Ready() bool {
	return t.ready.Load()
}

// Run warms joined rooms, then syncs until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	syncer.OnSync(t.onSync)
	// History is replayed by the room workers, so the initial sync timeline
	// is skipped.
	syncer.OnSync(t.client.DontProcessOldEvents)
	for _, typ := range []event.Type{event.EventMessage, event.EventReaction, event.EventRedaction, event.StateTopic} {
		syncer.OnEventType(typ, t.handleEvent)
	}
	syncer.OnEventType(event.StateMember, t.handleMember)

	if err := t.warmJoined(ctx); err != nil {
		return err
	}

	t.logger.Info("syncing", "user", t.client.UserID)
	syncErr := make(chan error, 1)
	go func() {
		syncErr <- t.client.SyncWithContext(ctx)
	}()

	defer t.setReady(false)
	select {
	case <-ctx.Done():
		return nil
	case err := <-syncErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (t *Transport) onSync(_ context.Context, _ *mautrix.RespSync, _ string) bool {
	if t.setReady(true) {
		t.logger.Info("initial sync complete")
	}
	return true
}

// setReady stores ready and reports whether it changed.
func (t *Transport) setReady(ready bool) bool {
	if t.ready.Swap(ready) == ready {
		return false
	}
	if t.opts.OnReady != nil {
		t.opts.OnReady(ready)
	}
	return true
}

func (t *Transport) warmJoined(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	joined, err := t.client.JoinedRooms(callCtx)
	if err != nil {
		return fmt.Errorf("listing joined rooms: %w", err)
	}
	for _, roomID := range joined.JoinedRooms {
		if !t.roomAllowed(roomID.String()) {
			continue
		}
		if err := t.sink.Warm(roomID.String()); err != nil {
			return fmt.Errorf("warming %s: %w", roomID, err)
		}
	}
	t.logger.Info("warmed joined rooms", "count", len(joined.JoinedRooms))
	return nil
}

// handleEvent forwards one room event to the sink.
func (t *Transport) handleEvent(ctx context.Context, evt *event.Event) {
	roomID := evt.RoomID.String()
	if !t.roomAllowed(roomID) {
		t.logger.Debug("ignoring event from non-allowed room", "room", roomID)
		return
	}
	if t.seen != nil && t.seen.Observe(roomID, evt.ID.String()) {
		t.logger.Debug("dropping repeated event", "room", roomID, "event_id", evt.ID)
		return
	}

	ev, err := ingest.FromMatrix(evt)
	if err != nil {
		if errors.Is(err, ingest.ErrUnsupported) {
			t.logger.Debug("ignoring unsupported event", "room", roomID, "event_id", evt.ID, "error", err)
		} else {
			t.logger.Warn("failed to normalize event", "room", roomID, "event_id", evt.ID, "error", err)
		}
		return
	}

	if err := t.sink.Dispatch(ctx, ev); err != nil {
		t.logger.Error("failed to dispatch event", "room", roomID, "event_id", evt.ID, "error", err)
		return
	}

	if evt.Sender != t.client.UserID {
		t.markRead(ctx, evt.RoomID, evt.ID)
	}
}

// handleMember joins allowed rooms on invite and leaves rooms where the bot
// is alone.
func (t *Transport) handleMember(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return
	}
	roomID := evt.RoomID.String()
	target := id.UserID(evt.GetStateKey())

	switch {
	case target == t.client.UserID && content.Membership == event.MembershipInvite:
		if !t.roomAllowed(roomID) {
			t.logger.Info("ignoring invite to non-allowed room", "room", roomID, "inviter", evt.Sender)
			return
		}
		t.join(ctx, evt.RoomID)

	case target != t.client.UserID && (content.Membership == event.MembershipLeave || content.Membership == event.MembershipBan):
		t.leaveIfAlone(ctx, evt.RoomID)
	}
}

func (t *Transport) join(ctx context.Context, roomID id.RoomID) {
	callCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	if _, err := t.client.JoinRoomByID(callCtx, roomID); err != nil {
		t.logger.Error("failed to join room", "room", roomID, "error", err)
		return
	}
	t.logger.Info("joined room", "room", roomID)

	if t.opts.SeedTopic {
		if err := t.prompts.EnsureTopic(callCtx, roomID.String(), t.opts.DefaultTopic); err != nil {
			t.logger.Warn("failed to seed topic", "room", roomID, "error", err)
		}
	}
	if err := t.sink.Warm(roomID.String()); err != nil {
		t.logger.Error("failed to warm room", "room", roomID, "error", err)
	}
}

func (t *Transport) leaveIfAlone(ctx context.Context, roomID id.RoomID) {
	callCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	members, err := t.client.JoinedMembers(callCtx, roomID)
	if err != nil {
		t.logger.Debug("failed to list members", "room", roomID, "error", err)
		return
	}
	if len(members.Joined) > 1 {
		return
	}
	if _, ok := members.Joined[t.client.UserID]; !ok {
		return
	}
	if _, err := t.client.LeaveRoom(callCtx, roomID); err != nil {
		t.logger.Error("failed to leave empty room", "room", roomID, "error", err)
		return
	}
	t.logger.Info("left empty room", "room", roomID)
}

func (t *Transport) markRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) {
	callCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if err := t.client.MarkRead(callCtx, roomID, eventID); err != nil {
		t.logger.Debug("failed to mark read", "room", roomID, "event_id", eventID, "error", err)
	}
}

func (t *Transport) roomAllowed(roomID string) bool {
	return len(t.opts.AllowedRooms) == 0 || slices.Contains(t.opts.AllowedRooms, roomID)
}
