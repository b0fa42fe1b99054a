// ABOUTME: Backfill source that pages backwards through room history
// ABOUTME: Decrypts encrypted history events and normalizes them oldest first

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/tool-bot/internal/ingest"
)

// historyPageSize is the number of events requested per /messages call.
const historyPageSize = 100

// History reads recent room events from the homeserver.
type History struct {
	client *mautrix.Client
	logger *slog.Logger
}

// NewHistory creates a history source.
func NewHistory(client *mautrix.Client, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{client: client, logger: logger.With("component", "history")}
}

// Recent returns up to limit supported events of roomID, oldest first.
// Events the engine does not model are skipped and do not count.
func (h *History) Recent(ctx context.Context, roomID string, limit int) ([]ingest.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		out  []ingest.Event
		from string
	)
	for len(out) < limit {
		page := min(historyPageSize, limit-len(out))
		resp, err := h.client.Messages(ctx, id.RoomID(roomID), from, "", mautrix.DirectionBackward, nil, page)
		if err != nil {
			return nil, fmt.Errorf("fetching history of %s: %w", roomID, err)
		}

		for _, evt := range resp.Chunk {
			if len(out) == limit {
				break
			}
			if evt.RoomID == "" {
				evt.RoomID = id.RoomID(roomID)
			}
			ev, ok := h.normalize(ctx, evt)
			if ok {
				out = append(out, ev)
			}
		}

		if len(resp.Chunk) == 0 || resp.End == "" || resp.End == from {
			break
		}
		from = resp.End
	}

	slices.Reverse(out)
	return out, nil
}

func (h *History) normalize(ctx context.Context, evt *event.Event) (ingest.Event, bool) {
	if evt.Type.Type == event.EventEncrypted.Type {
		dec, err := h.decrypt(ctx, evt)
		if err != nil {
			h.logger.Debug("skipping undecryptable history event", "event_id", evt.ID, "error", err)
			return nil, false
		}
		evt = dec
	}

	ev, err := ingest.FromMatrix(evt)
	if err != nil {
		if !errors.Is(err, ingest.ErrUnsupported) {
			h.logger.Warn("skipping history event", "event_id", evt.ID, "error", err)
		}
		return nil, false
	}
	return ev, true
}

func (h *History) decrypt(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if h.client.Crypto == nil {
		return nil, errors.New("encryption is not enabled")
	}
	evt.Type.Class = event.MessageEventType
	if err := evt.Content.ParseRaw(event.EventEncrypted); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return nil, fmt.Errorf("parsing encrypted content: %w", err)
	}
	return h.client.Crypto.Decrypt(ctx, evt)
}
