// ABOUTME: Tests for the JSON lines event log codec
// ABOUTME: Verifies comments are skipped, unknown types rejected and logs survive a round trip

package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLog(t *testing.T) {
	input := `# recorded stream
{"type":"message","id":"$a","room":"!r","sender":"@u:x","ts":1,"body":"hello"}

{"type":"reaction","id":"$b","room":"!r","sender":"@u:x","ts":2,"target":"$a","key":"👍"}
{"type":"redaction","id":"$c","room":"!r","sender":"@u:x","ts":3,"target":"$a"}
`
	events, err := ReadLog(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, NewMessage{Meta: Meta{ID: "$a", RoomID: "!r", Sender: "@u:x", Timestamp: 1}, Body: "hello"}, events[0])
	assert.Equal(t, Reaction{Meta: Meta{ID: "$b", RoomID: "!r", Sender: "@u:x", Timestamp: 2}, TargetID: "$a", Key: "👍"}, events[1])
	assert.Equal(t, KindRedaction, events[2].Kind())
}

func TestReadLog_Errors(t *testing.T) {
	_, err := ReadLog(strings.NewReader(`{"type":"presence","id":"$a","room":"!r"}`))
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), "line 1")

	_, err = ReadLog(strings.NewReader("{not json"))
	assert.Error(t, err)

	_, err = ReadLog(strings.NewReader(`{"type":"message","room":"!r"}`))
	assert.Error(t, err)
}

func TestWriteLog_ReadBack(t *testing.T) {
	events := []Event{
		NewMessage{Meta: Meta{ID: "$a", RoomID: "!r", Sender: "@u:x", Timestamp: 1}, Body: "hi", ThreadRoot: "$root"},
		Edit{Meta: Meta{ID: "$e", RoomID: "!r", Sender: "@u:x", Timestamp: 2}, TargetID: "$a", NewBody: "hey"},
		Topic{Meta: Meta{ID: "$t", RoomID: "!r", Sender: "@u:x", Timestamp: 3}, Topic: "prompt"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLog(&buf, events))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	got, err := ReadLog(&buf)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}
