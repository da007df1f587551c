package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One student"
lms:
  courses:
    - { code: C1 }
  users:
    - { username: u1, code: "1" }
sources:
  - name: students
    facts:
      - { course: C1, user: "1", role: student }
assertions:
  - type: enrolled
    course: C1
    user: u1
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "One student", scenario.Description)
	require.Len(t, scenario.Sources, 1)
	assert.Equal(t, "students", scenario.Sources[0].Name)
	assert.Equal(t, FactRow{Course: "C1", User: "1", Role: "student"}, scenario.Sources[0].Facts[0])
	assert.Len(t, scenario.LMS.Courses, 1)
	assert.Len(t, scenario.Assertions, 1)
	assert.Nil(t, scenario.Config.UnenrolThreshold)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Clock(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	now, err := s.clock()
	require.NoError(t, err)
	assert.Equal(t, DefaultNow, now)

	s, err = ParseScenario([]byte(minimalScenario + "now: \"2027-01-05T06:00:00Z\"\n"))
	require.NoError(t, err)
	now, err = s.clock()
	require.NoError(t, err)
	assert.Equal(t, 2027, now.Year())
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsources: [{name: a}]\nassertions: [{type: errors}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsources: [{name: a}]\nassertions: [{type: errors}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no sources",
			yaml:    "name: n\ndescription: d\nassertions: [{type: errors}]\n",
			wantErr: "sources list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "bad clock",
			yaml:    "name: n\ndescription: d\nnow: yesterday\nsources: [{name: a}]\nassertions: [{type: errors}]\n",
			wantErr: "now:",
		},
		{
			name:    "negative threshold",
			yaml:    "name: n\ndescription: d\nconfig: {unenrol_threshold: -1}\nsources: [{name: a}]\nassertions: [{type: errors}]\n",
			wantErr: "unenrol_threshold must not be negative",
		},
		{
			name:    "duplicate source",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}, {name: a}]\nassertions: [{type: errors}]\n",
			wantErr: `duplicate source name "a"`,
		},
		{
			name:    "unknown fail kind",
			yaml:    "name: n\ndescription: d\nsources: [{name: a, fail: TIMEOUT}]\nassertions: [{type: errors}]\n",
			wantErr: `unknown fail kind "TIMEOUT"`,
		},
		{
			name:    "failing source with facts",
			yaml:    "name: n\ndescription: d\nsources: [{name: a, fail: QUERY, facts: [{course: C1, user: '1', role: student}]}]\nassertions: [{type: errors}]\n",
			wantErr: "a failing source cannot report facts",
		},
		{
			name:    "fact without role",
			yaml:    "name: n\ndescription: d\nsources: [{name: a, facts: [{course: C1, user: '1'}]}]\nassertions: [{type: errors}]\n",
			wantErr: "sources[0].facts[0]: role is required",
		},
		{
			name:    "incomplete enrolment",
			yaml:    "name: n\ndescription: d\nlms: {enrolments: [{course: C1, user: u1}]}\nsources: [{name: a}]\nassertions: [{type: errors}]\n",
			wantErr: "lms.enrolments[0]: course, user and role are required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\nassertions: [{type: eventually}]\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "enrolled without user",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\nassertions: [{type: enrolled, course: C1}]\n",
			wantErr: "course and user are required for enrolled",
		},
		{
			name:    "trace_count without action",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\nassertions: [{type: trace_count, count: 1}]\n",
			wantErr: "action is required for trace_count",
		},
		{
			name:    "trace_order without actions",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\nassertions: [{type: trace_order}]\n",
			wantErr: "actions list is required for trace_order",
		},
		{
			name:    "notified without subject",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\nassertions: [{type: notified, to: a@example.edu}]\n",
			wantErr: "subject is required for notified",
		},
		{
			name:    "final_state without table",
			yaml:    "name: n\ndescription: d\nsources: [{name: a}]\nassertions: [{type: final_state}]\n",
			wantErr: "table is required for final_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
