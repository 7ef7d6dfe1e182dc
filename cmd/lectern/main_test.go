package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/tests/helpers"
)

type cliTestEnv struct {
	dbPath     string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("LECTERN_MODE", "MOCK")

	base := t.TempDir()
	env := &cliTestEnv{
		dbPath:     filepath.Join(base, "lectern.db"),
		configPath: filepath.Join(base, "config.toml"),
		baseDir:    base,
	}
	content := fmt.Sprintf("database_url = %q\nlog_level = \"error\"\n", "file:"+env.dbPath+"?mode=rwc")
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o644))

	transcript, err := json.Marshal(domain.IngestRequest{
		Title:    "Intro to Calculus",
		Snippets: helpers.CalculusSnippets(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "calculus.json"), transcript, 0o644))
	return env
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestIngestAndQueryCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "ingest", "v1", filepath.Join(env.baseDir, "calculus.json"))
	require.NoError(t, err, out)
	var ingested domain.IngestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	assert.Equal(t, 3, ingested.SegmentCount)

	out, err = env.run(t, "segments", "v1")
	require.NoError(t, err, out)
	var segs []domain.TranscriptSegment
	require.NoError(t, json.Unmarshal([]byte(out), &segs))
	require.Len(t, segs, 3)
	assert.Equal(t, 25.0, segs[2].StartTime)

	out, err = env.run(t, "predict", "v1", "0:20")
	require.NoError(t, err, out)
	var pred domain.PredictResponse
	require.NoError(t, json.Unmarshal([]byte(out), &pred))
	assert.Equal(t, 20.0, pred.Timestamp)
	assert.NotEmpty(t, pred.Questions)

	out, err = env.run(t, "search", "v1", "chain", "rule", "-k", "1")
	require.NoError(t, err, out)
	var items []domain.EvidenceItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, 25.0, items[0].StartTime)

	out, err = env.run(t, "videos")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Intro to Calculus")
}

func TestCommandErrors(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "segments", "missing")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)

	_, err = env.run(t, "ingest", "v1", filepath.Join(env.baseDir, "notes.txt"))
	assert.Error(t, err)

	_, err = env.run(t, "predict", "v1", "soon")
	assert.Error(t, err)
}

func TestDatabaseLock(t *testing.T) {
	env := setupCLITestEnv(t)

	lock := flock.New(lockPath("file:" + env.dbPath + "?mode=rwc"))
	ok, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Unlock()

	_, err = env.run(t, "videos")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, "", lockPath(":memory:"))
	assert.Equal(t, "", lockPath("file:test?mode=memory&cache=shared"))
	assert.Equal(t, ".lectern.db.lock", lockPath("file:lectern.db?cache=shared&mode=rwc"))
	assert.Equal(t, filepath.Join("/var/lib", ".tutor.db.lock"), lockPath("/var/lib/tutor.db"))
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"95.5", 95.5, true},
		{"1:35", 95, true},
		{"1:01:35", 3695, true},
		{"0:75", 0, false},
		{"-3", 0, false},
		{"", 0, false},
		{"1:2:3:4", 0, false},
	}
	for _, tc := range cases {
		got, err := parseTimestamp(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestDecodeTranscript(t *testing.T) {
	srt := "1\n00:00:01,000 --> 00:00:03,500\nhello there\n\n2\n00:00:04,000 --> 00:00:06,000\nsecond line\n"
	req, err := decodeTranscript(".srt", []byte(srt))
	require.NoError(t, err)
	require.Len(t, req.Snippets, 2)
	assert.Equal(t, 1.0, req.Snippets[0].Start)

	req, err = decodeTranscript(".json", []byte(`[{"text":"a","start":0,"duration":2}]`))
	require.NoError(t, err)
	require.Len(t, req.Snippets, 1)

	req, err = decodeTranscript(".JSON", []byte(`{"title":"T","snippets":[{"text":"a","start":0,"duration":2}]}`))
	require.NoError(t, err)
	assert.Equal(t, "T", req.Title)

	_, err = decodeTranscript(".vtt", nil)
	assert.Error(t, err)
}

func TestResolveVideoID(t *testing.T) {
	id, err := resolveVideoID("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", id)

	id, err = resolveVideoID("lecture-01")
	require.NoError(t, err)
	assert.Equal(t, "lecture-01", id)

	_, err = resolveVideoID("not a video")
	assert.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]column{{header: "Start"}, {header: "Text"}}, [][]string{{"00:10", "a derivative"}})
	assert.Contains(t, out, "START")
	assert.Contains(t, out, "a derivative")
	assert.True(t, strings.HasPrefix(out, "╭"))
	assert.Equal(t, "", renderTable(nil, nil))
}
