// ABOUTME: Performs outbound intents against the homeserver
// ABOUTME: Renders markdown with goldmark and paces sends with a token bucket

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/tool-bot/internal/intent"
)

// sendTimeout bounds a single send; large messages take longer than other calls.
const sendTimeout = 30 * time.Second

// ErrUnsupportedIntent is returned for intents the transport cannot perform.
var ErrUnsupportedIntent = errors.New("unsupported intent")

// Dispatcher performs intents with a Matrix client.
type Dispatcher struct {
	client  *mautrix.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher that sends at most perSecond events per
// second with the given burst. A non-positive rate disables pacing.
func NewDispatcher(client *mautrix.Client, perSecond float64, burst int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "dispatcher"),
	}
}

// Dispatch performs in and returns the id of the created event.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent) (intent.Receipt, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return intent.Receipt{}, fmt.Errorf("waiting for send slot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var (
		resp *mautrix.RespSendEvent
		err  error
	)
	switch v := in.(type) {
	case intent.SendMessage:
		resp, err = d.client.SendMessageEvent(ctx, id.RoomID(v.RoomID), event.EventMessage, messageContent(v))
	case intent.Redact:
		resp, err = d.client.RedactEvent(ctx, id.RoomID(v.RoomID), id.EventID(v.TargetID), mautrix.ReqRedact{Reason: v.Reason})
	case intent.ReactionAck:
		resp, err = d.client.SendReaction(ctx, id.RoomID(v.RoomID), id.EventID(v.TargetID), v.Key)
	default:
		return intent.Receipt{}, fmt.Errorf("%s: %w", in.Type(), ErrUnsupportedIntent)
	}
	if err != nil {
		return intent.Receipt{}, fmt.Errorf("%s in %s: %w", in.Type(), in.Room(), err)
	}

	d.logger.Debug("dispatched", "type", in.Type(), "room", in.Room(), "event_id", resp.EventID)
	return intent.Receipt{EventID: resp.EventID.String()}, nil
}

// messageContent builds the event content of a SendMessage. Replies inside a
// thread are real replies, not thread fallbacks, so the receiving graph sees
// the same parent the engine inserted.
func messageContent(m intent.SendMessage) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    m.Body,
	}
	if formatted, ok := renderMarkdown(m.Body); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}

	switch {
	case m.ThreadRoot != "":
		content.RelatesTo = &event.RelatesTo{
			Type:    event.RelThread,
			EventID: id.EventID(m.ThreadRoot),
		}
		if m.ReplyTo != "" {
			content.RelatesTo.InReplyTo = &event.InReplyTo{EventID: id.EventID(m.ReplyTo)}
		}
	case m.ReplyTo != "":
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(m.ReplyTo)},
		}
	}
	return content
}

// htmlEscaper matches the escaping goldmark applies to paragraph text.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// renderMarkdown converts body to HTML. It reports false when the result is
// a single plain paragraph, in which case no formatted body is needed.
func renderMarkdown(body string) (string, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return "", false
	}
	out := strings.TrimSpace(buf.String())
	if out == "" || out == "<p>"+htmlEscaper.Replace(body)+"</p>" {
		return "", false
	}
	return out, true
}
