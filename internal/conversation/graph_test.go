// ABOUTME: Tests for conversation graph ingestion and traversal
// ABOUTME: Covers idempotence, relation validation, edits, reactions, redactions and thread walks

package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/proposal"
)

const (
	testRoom = "!room:example.org"
	testBot  = "@bot:example.org"
	alice    = "@alice:example.org"
	bob      = "@bob:example.org"
)

func meta(id, sender string, ts int64) ingest.Meta {
	return ingest.Meta{ID: id, RoomID: testRoom, Sender: sender, Timestamp: ts}
}

func message(id, sender, body, replyTo string, ts int64) ingest.NewMessage {
	return ingest.NewMessage{Meta: meta(id, sender, ts), Body: body, ReplyTo: replyTo}
}

func mustIngest(t *testing.T, g *Graph, events ...ingest.Event) {
	t.Helper()
	for _, ev := range events {
		_, err := g.Ingest(ev)
		require.NoError(t, err, "ingesting %s", ev.Header().ID)
	}
}

func TestIngest_MessageKinds(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "hello", "", 1),
		message("$b", testBot, "hi", "$a", 2),
	)

	a, ok := g.Node("$a")
	require.True(t, ok)
	assert.Equal(t, KindUserMessage, a.Kind)

	b, ok := g.Node("$b")
	require.True(t, ok)
	assert.Equal(t, KindBotMessage, b.Kind)
	assert.Equal(t, "$a", b.ReplyTo)
	assert.Equal(t, []string{"$b"}, g.Children("$a"))
}

func TestIngest_Idempotent(t *testing.T) {
	events := []ingest.Event{
		message("$a", alice, "hello", "", 1),
		message("$b", testBot, "hi", "$a", 2),
		ingest.Edit{Meta: meta("$e", alice, 3), TargetID: "$a", NewBody: "hello there"},
		ingest.Reaction{Meta: meta("$r", alice, 4), TargetID: "$b", Key: "👍"},
		ingest.Redaction{Meta: meta("$d", alice, 5), TargetID: "$r"},
		ingest.Topic{Meta: meta("$t", alice, 6), Topic: "prompt"},
	}

	g := New(testRoom, testBot)
	for _, ev := range events {
		_, err := g.Ingest(ev)
		require.NoError(t, err)
		before := g.Snapshot().String()

		res, err := g.Ingest(ev)
		require.NoError(t, err)
		assert.True(t, res.Duplicate, "second ingest of %s should be a duplicate", ev.Header().ID)
		assert.Equal(t, before, g.Snapshot().String())
	}
}

func TestIngest_DuplicateWithDifferentBody(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g, message("$a", alice, "hello", "", 1))

	res, err := g.Ingest(message("$a", alice, "tampered", "", 1))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.Conflict)

	n, _ := g.Node("$a")
	assert.Equal(t, "hello", n.Body)
}

func TestIngest_DanglingReply(t *testing.T) {
	g := New(testRoom, testBot)
	_, err := g.Ingest(message("$b", alice, "reply", "$missing", 1))

	assert.ErrorIs(t, err, ErrMalformedRelation)
	var relErr *RelationError
	require.True(t, errors.As(err, &relErr))
	assert.Equal(t, "$missing", relErr.Target)
	assert.Equal(t, 0, g.Len())
	assert.False(t, g.Seen("$b"))
}

func TestIngest_SelfReply(t *testing.T) {
	g := New(testRoom, testBot)
	_, err := g.Ingest(message("$a", alice, "me", "$a", 1))
	assert.ErrorIs(t, err, ErrMalformedRelation)
	assert.Equal(t, 0, g.Len())
}

func TestIngest_CycleRejected(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "first", "", 1),
		message("$b", alice, "second", "$a", 2),
	)
	before := g.Snapshot().String()

	_, err := g.Ingest(message("$a", alice, "first", "$b", 1))
	require.ErrorIs(t, err, ErrMalformedRelation)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, before, g.Snapshot().String())
}

func TestIngest_EditRules(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g, message("$a", alice, "NYC", "", 1))

	res, err := g.Ingest(ingest.Edit{Meta: meta("$e1", bob, 2), TargetID: "$a", NewBody: "hijack"})
	require.NoError(t, err)
	assert.Equal(t, "edit by another sender", res.Ignored)

	res, err = g.Ingest(ingest.Edit{Meta: meta("$e2", alice, 10), TargetID: "$a", NewBody: "Denver"})
	require.NoError(t, err)
	assert.Equal(t, []string{"$a"}, res.Affected)

	res, err = g.Ingest(ingest.Edit{Meta: meta("$e3", alice, 5), TargetID: "$a", NewBody: "Boston"})
	require.NoError(t, err)
	assert.Equal(t, "stale edit", res.Ignored)

	content, err := g.LatestEdit("$a")
	require.NoError(t, err)
	assert.Equal(t, Content{Body: "Denver", Version: 1, ReplacedBy: "$e2"}, content)

	// Edits of the edit event resolve to the original message.
	_, err = g.Ingest(ingest.Edit{Meta: meta("$e4", alice, 11), TargetID: "$e2", NewBody: "Denver, CO"})
	require.NoError(t, err)
	content, err = g.LatestEdit("$a")
	require.NoError(t, err)
	assert.Equal(t, 2, content.Version)
	assert.Equal(t, "Denver, CO", content.Body)
}

func TestIngest_RedactionOfEditWithdrawsIt(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "NYC", "", 1),
		message("$b", testBot, "answer", "$a", 2),
		ingest.Edit{Meta: meta("$e1", alice, 3), TargetID: "$a", NewBody: "Denver"},
		ingest.Edit{Meta: meta("$e2", alice, 4), TargetID: "$a", NewBody: "Boston"},
	)

	res, err := g.Ingest(ingest.Redaction{Meta: meta("$d1", alice, 5), TargetID: "$e2"})
	require.NoError(t, err)
	assert.Empty(t, res.Affected)
	assert.Equal(t, "$a", res.Withdrawn)

	a, _ := g.Node("$a")
	assert.False(t, a.Tombstoned)
	assert.Equal(t, "Denver", a.Body)
	assert.Equal(t, "$e1", a.ReplacedBy)
	b, _ := g.Node("$b")
	assert.False(t, b.Tombstoned)

	// Withdrawing an older edit leaves the current body alone.
	mustIngest(t, g, ingest.Edit{Meta: meta("$e3", alice, 6), TargetID: "$a", NewBody: "Austin"})
	res, err = g.Ingest(ingest.Redaction{Meta: meta("$d2", alice, 7), TargetID: "$e1"})
	require.NoError(t, err)
	assert.Equal(t, "$a", res.Withdrawn)
	assert.Equal(t, "Austin", a.Body)

	mustIngest(t, g, ingest.Redaction{Meta: meta("$d3", alice, 8), TargetID: "$e3"})
	content, err := g.LatestEdit("$a")
	require.NoError(t, err)
	assert.Equal(t, "NYC", content.Body)
	assert.Empty(t, content.ReplacedBy)

	res, err = g.Ingest(ingest.Redaction{Meta: meta("$d4", alice, 9), TargetID: "$e3"})
	require.NoError(t, err)
	assert.Equal(t, "edit already withdrawn", res.Ignored)
}

func TestIngest_WithdrawnEditRevealsStaleEdit(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "NYC", "", 1),
		ingest.Edit{Meta: meta("$new", alice, 10), TargetID: "$a", NewBody: "Denver"},
	)
	res, err := g.Ingest(ingest.Edit{Meta: meta("$old", alice, 5), TargetID: "$a", NewBody: "Boston"})
	require.NoError(t, err)
	assert.Equal(t, "stale edit", res.Ignored)

	mustIngest(t, g, ingest.Redaction{Meta: meta("$d", alice, 11), TargetID: "$new"})
	a, _ := g.Node("$a")
	assert.Equal(t, "Boston", a.Body)
}

func TestIngest_EditOfTombstoneIgnored(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g, message("$a", alice, "NYC", "", 1))
	require.NoError(t, g.Tombstone("$a"))

	res, err := g.Ingest(ingest.Edit{Meta: meta("$e", alice, 2), TargetID: "$a", NewBody: "Denver"})
	require.NoError(t, err)
	assert.Equal(t, "target is redacted", res.Ignored)

	n, _ := g.Node("$a")
	assert.Empty(t, n.Body)
}

func TestIngest_EditOfUnknownTarget(t *testing.T) {
	g := New(testRoom, testBot)
	_, err := g.Ingest(ingest.Edit{Meta: meta("$e", alice, 2), TargetID: "$nope", NewBody: "x"})
	assert.ErrorIs(t, err, ErrMalformedRelation)
}

func TestIngest_Reactions(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "hello", "", 1),
		message("$b", testBot, "proposal", "$a", 2),
		ingest.Reaction{Meta: meta("$r1", alice, 3), TargetID: "$b", Key: "👍"},
		ingest.Reaction{Meta: meta("$r2", bob, 4), TargetID: "$b", Key: "👍"},
	)

	b, _ := g.Node("$b")
	assert.Equal(t, []string{alice, bob}, b.Reactions["👍"])
	assert.Empty(t, g.Children("$b"), "annotations are not children")

	r1, _ := g.Node("$r1")
	assert.Equal(t, KindReaction, r1.Kind)
	assert.Equal(t, "$b", r1.Target)

	// Redacting the reaction withdraws it.
	res, err := g.Ingest(ingest.Redaction{Meta: meta("$d", alice, 5), TargetID: "$r1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"$r1"}, res.Affected)
	assert.Equal(t, []string{bob}, b.Reactions["👍"])
	assert.True(t, r1.Tombstoned)

	_, err = g.Ingest(ingest.Reaction{Meta: meta("$r3", alice, 6), TargetID: "$gone", Key: "👍"})
	assert.ErrorIs(t, err, ErrMalformedRelation)
}

func TestIngest_RepeatedReactionSurvivesOneRedaction(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$b", testBot, "proposal", "", 1),
		ingest.Reaction{Meta: meta("$r1", alice, 2), TargetID: "$b", Key: "👍"},
		ingest.Reaction{Meta: meta("$r2", alice, 3), TargetID: "$b", Key: "👍"},
	)
	b, _ := g.Node("$b")
	assert.Equal(t, []string{alice}, b.Reactions["👍"])

	mustIngest(t, g, ingest.Redaction{Meta: meta("$d1", alice, 4), TargetID: "$r1"})
	assert.True(t, b.ReactedWith("👍", alice))

	mustIngest(t, g, ingest.Redaction{Meta: meta("$d2", alice, 5), TargetID: "$r2"})
	assert.False(t, b.ReactedWith("👍", alice))
	assert.Empty(t, b.Reactions)
}

func TestIngest_RedactionOfUnknownTarget(t *testing.T) {
	g := New(testRoom, testBot)
	res, err := g.Ingest(ingest.Redaction{Meta: meta("$d", alice, 1), TargetID: "$nope"})
	require.NoError(t, err)
	assert.Equal(t, "unknown target", res.Ignored)
	assert.Empty(t, res.Affected)
}

func TestIngest_RedactedHistoryMessage(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		ingest.NewMessage{Meta: meta("$a", alice, 1), Redacted: true},
		message("$b", testBot, "answer", "$a", 2),
	)

	a, _ := g.Node("$a")
	assert.True(t, a.Tombstoned)
	assert.Equal(t, []string{"$b"}, g.Descendants("$a").Collect())
}

func TestResolveThreadRoot(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$root", alice, "start", "", 1),
		ingest.NewMessage{Meta: meta("$t1", bob, 2), Body: "in thread", ThreadRoot: "$root"},
		message("$t2", alice, "reply in thread", "$t1", 3),
		message("$other", bob, "unrelated", "", 4),
	)

	for _, id := range []string{"$root", "$t1", "$t2"} {
		root, err := g.ResolveThreadRoot(id)
		require.NoError(t, err)
		assert.Equal(t, "$root", root, "root of %s", id)
	}

	root, err := g.ResolveThreadRoot("$other")
	require.NoError(t, err)
	assert.Equal(t, "$other", root)

	_, err = g.ResolveThreadRoot("$missing")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestThreadContext(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$1", alice, "one", "", 1),
		message("$2", testBot, "two", "$1", 2),
		message("$3", alice, "three", "$2", 3),
		message("$4", testBot, "four", "$3", 4),
	)

	ids := func(tc ThreadContext) []string {
		var out []string
		for _, n := range tc.Nodes {
			out = append(out, n.ID)
		}
		return out
	}

	tc, err := g.ThreadContext("$4", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"$1", "$2", "$3", "$4"}, ids(tc))
	assert.False(t, tc.Truncated)

	tc, err = g.ThreadContext("$4", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"$3", "$4"}, ids(tc))
	assert.True(t, tc.Truncated)

	tc, err = g.ThreadContext("$4", 4)
	require.NoError(t, err)
	assert.False(t, tc.Truncated)

	tc, err = g.ThreadContext("$2", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"$1", "$2"}, ids(tc))
}

func TestDescendants_BreadthFirst(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "a", "", 1),
		message("$b", testBot, "b", "$a", 2),
		message("$c", alice, "c", "$a", 3),
		message("$d", testBot, "d", "$b", 4),
		message("$e", testBot, "e", "$c", 5),
		ingest.NewMessage{Meta: meta("$f", bob, 6), Body: "f", ThreadRoot: "$a"},
	)

	assert.Equal(t, []string{"$b", "$c", "$f", "$d", "$e"}, g.Descendants("$a").Collect())
	assert.Empty(t, g.Descendants("$e").Collect())
	assert.Empty(t, g.Descendants("$missing").Collect())
}

func TestDescendants_LazyAndSingleUse(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "a", "", 1),
		message("$b", testBot, "b", "$a", 2),
		message("$c", alice, "c", "$b", 3),
	)

	w := g.Descendants("$a")
	first, ok := w.Next()
	require.True(t, ok)
	assert.Equal(t, "$b", first)

	assert.Equal(t, []string{"$c"}, w.Collect())
	_, ok = w.Next()
	assert.False(t, ok)
}

func TestAttachProposal(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "make a card", "", 1),
		message("$b", testBot, "proposal", "$a", 2),
	)
	d, err := proposal.NewDraft(proposal.KindFlashcard, map[string]any{"front": "f", "back": "b"})
	require.NoError(t, err)

	require.NoError(t, g.AttachProposal("$b", proposal.New("$b", "$a", d)))
	assert.ErrorIs(t, g.AttachProposal("$b", proposal.New("$b", "$a", d)), ErrProposalExists)
	assert.ErrorIs(t, g.AttachProposal("$a", proposal.New("$a", "$a", d)), ErrNotBotMessage)
	assert.ErrorIs(t, g.AttachProposal("$zz", proposal.New("$zz", "$a", d)), ErrUnknownNode)

	assert.Len(t, g.Proposals(), 1)
}

func TestUnanswered(t *testing.T) {
	g := New(testRoom, testBot)
	mustIngest(t, g,
		message("$a", alice, "answered", "", 1),
		message("$b", testBot, "reply", "$a", 2),
		message("$c", alice, "waiting", "", 3),
		message("$d", bob, "not allowed", "", 4),
		message("$e", alice, "deleted", "", 5),
	)
	require.NoError(t, g.Tombstone("$e"))

	got := g.Unanswered(func(sender string) bool { return sender == alice })
	require.Len(t, got, 1)
	assert.Equal(t, "$c", got[0].ID)
}
