package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/config"
	"github.com/roach88/enrolsync/internal/source"
)

func writeValidateConfig(t *testing.T, cfg string) *RootOptions {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enrolsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return &RootOptions{ConfigPath: path, Format: "text"}
}

func TestValidateValidConfig(t *testing.T) {
	opts := writeValidateConfig(t, `lms_db: "/tmp/lms.db"
sources: [{
	name: "sis"
	type: "feed"
	settings: path: "/srv/feed.yaml"
}, {
	name: "approvers"
	type: "approvers"
}]
`)

	stdout, _, err := execute(NewValidateCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ Configuration valid (2 source(s))")
}

func TestValidateReportsSettingIssues(t *testing.T) {
	opts := writeValidateConfig(t, `lms_db: "/tmp/lms.db"
sources: [{
	name: "sis"
	type: "feed"
	settings: colour: "blue"
}]
`)

	stdout, _, err := execute(NewValidateCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ 2 issue(s) found:")
	assert.Contains(t, stdout, "sis.path: required setting is missing")
	assert.Contains(t, stdout, "sis.colour: unknown setting for type feed")
}

func TestValidateJSONIssues(t *testing.T) {
	opts := writeValidateConfig(t, `lms_db: "/tmp/lms.db"
sources: [{
	name: "sis"
	type: "feed"
}]
`)
	opts.Format = "json"

	stdout, _, err := execute(NewValidateCommand(opts))
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
}

func TestValidateSchemaViolation(t *testing.T) {
	opts := writeValidateConfig(t, `lms_db: "/tmp/lms.db"
unenrol_threshold: -1
`)

	stdout, _, err := execute(NewValidateCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [CONFIG]")
}

func TestValidateSourcesRequiredSettings(t *testing.T) {
	cfg := config.Config{Sources: []config.Source{
		{Name: "sis", Type: "students", Settings: map[string]string{"months_ahead": "3"}},
		{Name: "teachers", Type: "instructors"},
	}}

	result, err := validateSources(cfg, source.DefaultRegistry())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []ValidationIssue{
		{Source: "sis", Setting: "dsn", Message: "required setting is missing"},
	}, result.Issues)
	assert.Equal(t, []string{"sis", "teachers"}, result.Sources)
}

func TestValidateSourcesUnknownType(t *testing.T) {
	cfg := config.Config{Sources: []config.Source{{Name: "x", Type: "ldap"}}}

	_, err := validateSources(cfg, source.DefaultRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source type "ldap"`)
}
