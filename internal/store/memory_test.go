package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/api/internal/board"
)

func seedProject(t *testing.T, s *MemoryStore) board.Project {
	t.Helper()
	return seedProjectID(t, s, "p1")
}

func seedProjectID(t *testing.T, s *MemoryStore, id string) board.Project {
	t.Helper()
	p := board.Project{
		ID:        id,
		Name:      "Sales System",
		Status:    board.StatusAnalyzing,
		CreatedBy: "u1",
		Members:   []string{"u1"},
		Columns:   board.DefaultColumns(),
	}
	require.NoError(t, s.InsertProject(context.Background(), p))
	return p
}

func TestReplaceProjectBumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := seedProject(t, s)

	p.Name = "Billing"
	updated, err := s.ReplaceProject(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	stored, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Billing", stored.Name)
}

func TestReplaceProjectRejectsStaleVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := seedProject(t, s)

	first := p
	first.Name = "First writer"
	_, err := s.ReplaceProject(ctx, first)
	require.NoError(t, err)

	// Second writer still holds version 0.
	second := p
	second.Name = "Second writer"
	_, err = s.ReplaceProject(ctx, second)
	assert.ErrorIs(t, err, ErrStaleWrite)

	stored, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "First writer", stored.Name)
}

func TestReplaceProjectMissingRecord(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.ReplaceProject(context.Background(), board.Project{ID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceActivityCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, s)
	a := board.Activity{ID: "a1", ProjectID: "p1", Title: "Login screen", ColumnID: "todo"}
	require.NoError(t, s.InsertActivity(ctx, a))

	a.ClaimedBy = "u1"
	updated, err := s.ReplaceActivity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	// A writer holding the old version loses.
	stale := a
	stale.ClaimedBy = "u2"
	_, err = s.ReplaceActivity(ctx, stale)
	assert.ErrorIs(t, err, ErrStaleWrite)

	stored, err := s.GetActivity(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.ClaimedBy)
}

func TestReplaceProjectColumnsRechecksAtCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := seedProject(t, s)

	// An activity lands in "todo" after the caller validated removal.
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "a1", ProjectID: "p1", ColumnID: "todo"}))

	next := p
	next.Columns = []board.Column{
		{ID: "progress", Name: "In Progress", Order: 0},
		{ID: "done", Name: "Done", Order: 1},
	}
	_, err := s.ReplaceProjectColumns(ctx, next, []string{"todo"})
	assert.ErrorIs(t, err, board.ErrColumnNotEmpty)

	stored, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, stored.Columns, 3, "failed commit leaves stored state untouched")
}

func TestDeleteProjectCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, s)
	seedProjectID(t, s, "p2")
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "a1", ProjectID: "p1", ColumnID: "todo"}))
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "a2", ProjectID: "p1", ColumnID: "done"}))
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "b1", ProjectID: "p2", ColumnID: "todo"}))

	require.NoError(t, s.DeleteProject(ctx, "p1"))

	_, err := s.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetActivity(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetActivity(ctx, "a2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Unrelated project survives.
	_, err = s.GetActivity(ctx, "b1")
	require.NoError(t, err)
}

func TestCountActivitiesInColumn(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, s)
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "a1", ProjectID: "p1", ColumnID: "todo"}))
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "a2", ProjectID: "p1", ColumnID: "todo"}))
	require.NoError(t, s.InsertActivity(ctx, board.Activity{ID: "a3", ProjectID: "p1", ColumnID: "done"}))

	n, err := s.CountActivitiesInColumn(ctx, "p1", "todo")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertActivityRequiresLiveColumn(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, s)

	err := s.InsertActivity(ctx, board.Activity{ID: "a1", ProjectID: "ghost", ColumnID: "todo"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.InsertActivity(ctx, board.Activity{ID: "a1", ProjectID: "p1", ColumnID: "removed"})
	assert.ErrorIs(t, err, board.ErrUnknownColumn)

	activities, listErr := s.ListActivities(ctx, "p1")
	require.NoError(t, listErr)
	assert.Empty(t, activities)
}

func TestReplaceActivityRejectsRemovedColumn(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p := seedProject(t, s)
	a := board.Activity{ID: "a1", ProjectID: "p1", ColumnID: "todo"}
	require.NoError(t, s.InsertActivity(ctx, a))

	// The "done" column goes away between the caller's read and its write.
	next := p
	next.Columns = []board.Column{
		{ID: "todo", Name: "To Do", Order: 0},
		{ID: "progress", Name: "In Progress", Order: 1},
	}
	_, err := s.ReplaceProjectColumns(ctx, next, []string{"done"})
	require.NoError(t, err)

	moved := a
	moved.ColumnID = "done"
	_, err = s.ReplaceActivity(ctx, moved)
	assert.ErrorIs(t, err, board.ErrUnknownColumn)

	stored, err := s.GetActivity(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "todo", stored.ColumnID)
	assert.Equal(t, int64(0), stored.Version)
}
