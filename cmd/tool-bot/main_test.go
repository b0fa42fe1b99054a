// ABOUTME: Tests for the tool-bot command tree
// ABOUTME: Covers config path resolution, init output, tool wiring and log replay through cobra

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tool-bot/internal/anki"
	"github.com/2389/tool-bot/internal/config"
	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/proposal"
	"github.com/2389/tool-bot/internal/room"
	"github.com/2389/tool-bot/internal/search"
	"github.com/2389/tool-bot/internal/todoist"
)

const (
	testRoom = "!room:example.org"
	testBot  = "@bot:example.org"
	alice    = "@alice:example.org"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("TOOLBOT_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/tool-bot/config.yaml", getConfigPath(""))

	t.Setenv("TOOLBOT_CONFIG", "/env/bot.toml")
	assert.Equal(t, "/env/bot.toml", getConfigPath(""))
	assert.Equal(t, "/flag/bot.yaml", getConfigPath("/flag/bot.yaml"))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "room", testRoom)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"room":"!room:example.org"`)

	buf.Reset()
	setupLogger(&buf, "debug", "text").Debug("details")
	assert.Contains(t, buf.String(), "msg=details")
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool-bot", "config.yaml")
	answers := strings.Join([]string{
		"",                           // homeserver
		testBot,                      // user id
		"hunter2",                    // password
		"",                           // recovery key
		alice + ", @bob:example.org", // allowed users
		"",                           // provider
		"sk-test",                    // api key
		"",                           // anki
		"y",                          // todoist
		"todoist-token",              // todoist token
		"y",                          // web search
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out, path))
	assert.Contains(t, out.String(), "Config written to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.org", cfg.Matrix.Homeserver)
	assert.Equal(t, testBot, cfg.Matrix.UserID)
	assert.Equal(t, []string{alice, "@bob:example.org"}, cfg.Matrix.AllowedUsers)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.True(t, cfg.Anki.Enabled)
	assert.True(t, cfg.Todoist.Enabled)
	assert.Equal(t, "todoist-token", cfg.Todoist.APIToken)
	assert.True(t, cfg.Search.Enabled)
	assert.True(t, cfg.Bot.SetTopicOnJoin)
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader("n\n"), &out, path))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func writeLog(t *testing.T, events ...ingest.Event) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ingest.WriteLog(&buf, events))
	path := filepath.Join(t.TempDir(), "room.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func meta(id, sender string, ts int64) ingest.Meta {
	return ingest.Meta{ID: id, RoomID: testRoom, Sender: sender, Timestamp: ts}
}

func TestReplayCommand(t *testing.T) {
	path := writeLog(t,
		ingest.NewMessage{Meta: meta("$q", alice, 1), Body: "capital of NY?"},
		ingest.NewMessage{Meta: meta("$a", testBot, 2), Body: "Albany", ReplyTo: "$q"},
		ingest.Reaction{Meta: meta("$r", alice, 3), TargetID: "$a", Key: "👍"},
		ingest.NewMessage{Meta: meta("$gone", alice, 4), Body: "oops"},
		ingest.Redaction{Meta: meta("$x", alice, 5), TargetID: "$gone"},
	)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--bot", testBot, "--check", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	snapshot := out.String()
	assert.Contains(t, snapshot, "room !room:example.org bot @bot:example.org")
	assert.Contains(t, snapshot, `$a bot sender=@bot:example.org root=$q reply=$q`)
	assert.Contains(t, snapshot, "$gone user sender=@alice:example.org root=$gone tombstoned")
}

func TestReplayCommand_RequiresBot(t *testing.T) {
	path := writeLog(t, ingest.NewMessage{Meta: meta("$q", alice, 1), Body: "hi"})

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"replay", path})
	assert.Error(t, cmd.Execute())
}

func TestReplayEvents_Deterministic(t *testing.T) {
	events := []ingest.Event{
		ingest.NewMessage{Meta: meta("$q", alice, 1), Body: "question"},
		ingest.NewMessage{Meta: meta("$b", testBot, 2), Body: "answer", ReplyTo: "$q"},
		ingest.Edit{Meta: meta("$e", alice, 3), TargetID: "$q", NewBody: "better question"},
	}

	first, err := replayEvents(context.Background(), testBot, events)
	require.NoError(t, err)
	second, err := replayEvents(context.Background(), testBot, events)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, `body="better question"`)
}

func TestWireTools(t *testing.T) {
	cfg, err := config.Parse(`
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
  password: "secret"
llm:
  api_key: "sk-test"
anki:
  enabled: true
search:
  enabled: true
`, "yaml")
	require.NoError(t, err)

	var deps room.Deps
	wireTools(&deps, cfg, nil)
	require.Contains(t, deps.Executors, proposal.KindFlashcard)
	assert.NotContains(t, deps.Executors, proposal.KindTask)
	assert.IsType(t, &anki.Client{}, deps.Decks)
	assert.IsType(t, &search.Client{}, deps.Searcher)

	cfg.Anki.SkipRouting = true
	cfg.Search.Enabled = false
	cfg.Todoist.Enabled = true
	deps = room.Deps{}
	wireTools(&deps, cfg, nil)
	assert.Nil(t, deps.Decks)
	assert.Nil(t, deps.Searcher)
	assert.IsType(t, &todoist.Client{}, deps.Executors[proposal.KindTask])
}
