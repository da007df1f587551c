package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncOptions(env *syncEnv, format string) *SyncOptions {
	return &SyncOptions{
		RootOptions: &RootOptions{ConfigPath: env.configPath, Format: format},
		Overrides:   env.overrides(),
	}
}

func TestSyncEnrolsFromFeed(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)

	stdout, _, err := execute(newSyncCommand(syncOptions(env, "text")))
	require.NoError(t, err)

	assert.Contains(t, stdout, "Run "+testRunID)
	assert.Contains(t, stdout, "sis: 2 facts, 0 orphans")
	assert.Contains(t, stdout, "Diff: 2 to add, 0 to remove")
	assert.Contains(t, stdout, "Enrolled: 2 (2 new enrolment instances)")
	assert.Equal(t, 2, env.count(t, `SELECT COUNT(*) FROM role_assignments WHERE component = 'enrol_sync' AND roleid = 5`))
	assert.Empty(t, env.recorder.Messages())
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)

	_, _, err := execute(newSyncCommand(syncOptions(env, "text")))
	require.NoError(t, err)

	stdout, _, err := execute(newSyncCommand(syncOptions(env, "text")))
	require.NoError(t, err)
	assert.Contains(t, stdout, "Diff: 0 to add, 0 to remove")
	assert.Equal(t, 2, env.count(t, `SELECT COUNT(*) FROM role_assignments`))
}

func TestSyncJSONOutput(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)

	stdout, _, err := execute(newSyncCommand(syncOptions(env, "json")))
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		RunID  string     `json:"run_id"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, testRunID, resp.RunID)
	assert.Equal(t, 2, resp.Data.Staged)
	assert.Equal(t, 2, resp.Data.Enrolled)
	assert.False(t, resp.Data.Degraded)
	assert.Empty(t, resp.Data.Errors)
}

func TestSyncReportsOrphans(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed+`  - course_code: C999
    user_code: "2001"
    role: student
`)

	stdout, _, err := execute(newSyncCommand(syncOptions(env, "text")))
	require.NoError(t, err, "orphan courses are not errors")

	assert.Contains(t, stdout, "Orphan courses: C999")
	msgs := env.recorder.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Missing course shells in the LMS", msgs[0].Subject)
	assert.Equal(t, []string{"registrar@example.edu"}, msgs[0].Recipients)
	assert.Contains(t, msgs[0].Body, "C999")
}

func TestSyncFailedSourceExitsWithFailure(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)
	env.writeConfig(t, `lms_db: "`+env.lmsPath+`"
sources: [{
	name: "sis"
	type: "feed"
	settings: path: "`+filepath.Join(env.dir, "missing.yaml")+`"
}]
`)

	stdout, _, err := execute(newSyncCommand(syncOptions(env, "text")))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "sis: FAILED")
	assert.Equal(t, 0, env.count(t, `SELECT COUNT(*) FROM role_assignments`))
}

func TestSyncInteractiveProgress(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)
	opts := syncOptions(env, "text")
	opts.Interactive = true

	stdout, _, err := execute(newSyncCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, stdout, "sis: fetching")
	assert.Contains(t, stdout, "completed without errors")
}

func TestSyncInteractiveJSONKeepsStdoutParseable(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)
	opts := syncOptions(env, "json")
	opts.Interactive = true

	stdout, stderr, err := execute(newSyncCommand(opts))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Contains(t, stderr, "sis: fetching")
}

func TestSyncMissingConfig(t *testing.T) {
	opts := &SyncOptions{RootOptions: &RootOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nope.cue"),
		Format:     "text",
	}}

	_, _, err := execute(newSyncCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSyncWritesMetricsFile(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)
	metrics := filepath.Join(env.dir, "enrolsync.prom")
	env.writeConfig(t, `lms_db: "`+env.lmsPath+`"
metrics_file: "`+metrics+`"
sources: [{
	name: "sis"
	type: "feed"
	settings: path: "`+env.feedPath+`"
}]
`)

	_, _, err := execute(newSyncCommand(syncOptions(env, "text")))
	require.NoError(t, err)
	assert.FileExists(t, metrics)
}
