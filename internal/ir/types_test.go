package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFieldNaming(t *testing.T) {
	f := Fact{CourseCode: "C1", UserCode: "U1", RoleID: 5, Source: "students"}
	data, err := json.Marshal(f)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"course_code"`)
	assert.Contains(t, string(data), `"user_code"`)
	assert.Contains(t, string(data), `"role_id"`)
	assert.NotContains(t, string(data), `"CourseCode"`)
}

func TestFactKey_IgnoresSource(t *testing.T) {
	a := Fact{CourseCode: "C1", UserCode: "U1", RoleID: 5, Source: "students"}
	b := Fact{CourseCode: "C1", UserCode: "U1", RoleID: 5, Source: "feed"}
	assert.Equal(t, a.Key(), b.Key())
}

func TestFactKey_DistinguishesRole(t *testing.T) {
	a := Fact{CourseCode: "C1", UserCode: "U1", RoleID: 5}
	b := Fact{CourseCode: "C1", UserCode: "U1", RoleID: 10}
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestFactKey_NoAmbiguousConcatenation(t *testing.T) {
	a := Fact{CourseCode: "C1", UserCode: "1", RoleID: 5}
	b := Fact{CourseCode: "C", UserCode: "11", RoleID: 5}
	assert.NotEqual(t, a.Key(), b.Key())
}
