package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planOptions(env *syncEnv, format string) *PlanOptions {
	return &PlanOptions{
		RootOptions: &RootOptions{ConfigPath: env.configPath, Format: format},
		Overrides:   env.overrides(),
	}
}

func TestPlanListsChangesWithoutApplying(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)

	stdout, _, err := execute(newPlanCommand(planOptions(env, "text")))
	require.NoError(t, err)

	assert.Contains(t, stdout, "Plan "+testRunID)
	assert.Contains(t, stdout, "To add: 2")
	assert.Contains(t, stdout, "+ C101 u1 role=5 source=sis")
	assert.Contains(t, stdout, "+ C102 u2 role=5 source=sis")
	assert.Contains(t, stdout, "To remove: 0")
	assert.Equal(t, 0, env.count(t, `SELECT COUNT(*) FROM role_assignments`))
	assert.Equal(t, 0, env.count(t, `SELECT COUNT(*) FROM enrol`))
}

func TestPlanSendsNoMail(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed+`  - course_code: C999
    user_code: "2001"
`)

	stdout, _, err := execute(newPlanCommand(planOptions(env, "text")))
	require.NoError(t, err)
	assert.Contains(t, stdout, "Orphan courses: C999")
	assert.Empty(t, env.recorder.Messages())
}

func TestPlanJSON(t *testing.T) {
	env := newSyncEnv(t, twoCourseFeed)

	stdout, _, err := execute(newPlanCommand(planOptions(env, "json")))
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   PlanSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.ToAdd, 2)
	assert.Equal(t, "C101", resp.Data.ToAdd[0].CourseCode)
	assert.Equal(t, "u1", resp.Data.ToAdd[0].Username)
	assert.Empty(t, resp.Data.ToRemove)
}
