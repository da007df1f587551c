package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/enrolsync/internal/ir"
)

func TestReplaceStaging_InsertsInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	facts := []ir.Fact{
		fact("C102", "S2", 5, "students"),
		fact("C101", "S1", 5, "students"),
		fact("C101", "S1", 5, "feed"),
	}
	n, err := s.ReplaceStaging(ctx, facts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, facts, stagedFacts(t, s), "staging keeps insertion order and duplicates")
}

func TestReplaceStaging_FullRefresh(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ReplaceStaging(ctx, []ir.Fact{fact("C101", "S1", 5, "students")})
	require.NoError(t, err)

	_, err = s.ReplaceStaging(ctx, []ir.Fact{fact("C102", "S2", 5, "students")})
	require.NoError(t, err)

	assert.Equal(t, []ir.Fact{fact("C102", "S2", 5, "students")}, stagedFacts(t, s))
}

func TestReplaceStaging_FailureKeepsPreviousRows(t *testing.T) {
	s := createTestStore(t)

	previous := []ir.Fact{fact("C101", "S1", 5, "students")}
	_, err := s.ReplaceStaging(context.Background(), previous)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReplaceStaging(ctx, []ir.Fact{fact("C999", "S9", 5, "students")})
	require.Error(t, err)

	assert.Equal(t, previous, stagedFacts(t, s))
}

func TestReplaceStaging_EmptyClears(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ReplaceStaging(ctx, []ir.Fact{fact("C101", "S1", 5, "students")})
	require.NoError(t, err)

	n, err := s.ReplaceStaging(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got := stagedFacts(t, s)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
