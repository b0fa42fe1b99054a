// ABOUTME: Fake homeserver used by the matrix package tests
// ABOUTME: Records client-server API calls and serves canned room state and history

package matrix

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

const (
	testRoom = "!room:example.org"
	testBot  = "@bot:example.org"
	alice    = "@alice:example.org"
)

type call struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeHomeserver struct {
	mu       sync.Mutex
	calls    []call
	nextID   int
	topic    string
	readOnly bool
	members  []string
	joined   []string
	// pages maps a pagination token to the chunk served for it and the next
	// token.
	pages map[string]page
}

type page struct {
	Chunk []map[string]any
	End   string
}

func newFakeHomeserver(t *testing.T) (*fakeHomeserver, *mautrix.Client) {
	t.Helper()
	hs := &fakeHomeserver{pages: map[string]page{}}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	client, err := mautrix.NewClient(srv.URL, id.UserID(testBot), "token")
	require.NoError(t, err)
	return hs, client
}

func (hs *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	path := strings.TrimPrefix(r.URL.Path, "/_matrix/client/v3")
	hs.calls = append(hs.calls, call{Method: r.Method, Path: path, Body: body})

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && path == "/login":
		device := "NEWDEVICE"
		if d, ok := body["device_id"].(string); ok && d != "" {
			device = d
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": testBot, "access_token": "secret", "device_id": device})

	case path == "/account/whoami":
		writeJSON(w, http.StatusOK, map[string]any{"user_id": testBot, "device_id": "WHODEVICE"})

	case path == "/joined_rooms":
		writeJSON(w, http.StatusOK, map[string]any{"joined_rooms": hs.joined})

	case strings.HasSuffix(path, "/joined_members"):
		joined := map[string]any{}
		for _, m := range hs.members {
			joined[m] = map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"joined": joined})

	case strings.HasSuffix(path, "/messages"):
		p := hs.pages[r.URL.Query().Get("from")]
		writeJSON(w, http.StatusOK, map[string]any{"chunk": p.Chunk, "end": p.End})

	case strings.Contains(path, "/state/m.room.topic"):
		if r.Method == http.MethodGet {
			if hs.topic == "" {
				writeJSON(w, http.StatusNotFound, map[string]any{"errcode": "M_NOT_FOUND", "error": "no topic"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"topic": hs.topic})
			return
		}
		if hs.readOnly {
			writeJSON(w, http.StatusForbidden, map[string]any{"errcode": "M_FORBIDDEN", "error": "power level too low"})
			return
		}
		hs.topic, _ = body["topic"].(string)
		writeJSON(w, http.StatusOK, map[string]any{"event_id": hs.eventID()})

	case strings.Contains(path, "/send/"), strings.Contains(path, "/redact/"):
		writeJSON(w, http.StatusOK, map[string]any{"event_id": hs.eventID()})

	default:
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (hs *fakeHomeserver) eventID() string {
	hs.nextID++
	return fmt.Sprintf("$hs%d", hs.nextID)
}

// find returns the recorded calls whose path contains fragment.
func (hs *fakeHomeserver) find(method, fragment string) []call {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var out []call
	for _, c := range hs.calls {
		if c.Method == method && strings.Contains(c.Path, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func textEvent(eventID, sender, body string, ts int64) map[string]any {
	return map[string]any{
		"type":             "m.room.message",
		"event_id":         eventID,
		"sender":           sender,
		"room_id":          testRoom,
		"origin_server_ts": ts,
		"content":          map[string]any{"msgtype": "m.text", "body": body},
	}
}
