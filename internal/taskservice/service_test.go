package taskservice

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varde/mnemo/internal/apperr"
	"github.com/varde/mnemo/internal/models"
	"github.com/varde/mnemo/internal/storage"
	"github.com/varde/mnemo/internal/syncer"
	"github.com/varde/mnemo/internal/testutil"
)

func testService(t *testing.T) (*Service, *storage.FS) {
	t.Helper()
	store := testutil.TestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := syncer.New(store, testutil.TestDB(t), logger, syncer.DefaultBulkThreshold)
	return NewService(store, coord, nil), store
}

func addNote(t *testing.T, store *storage.FS, key string) {
	t.Helper()
	require.NoError(t, store.Create(&models.Note{Key: key, Body: "body of " + key}))
}

func TestAddDoneList_Scenario(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	addNote(t, store, "a")

	first, err := svc.Add(ctx, "a", "write intro")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)

	require.NoError(t, svc.Prio(ctx, first))

	second, err := svc.Add(ctx, "a", "fix typo")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second)

	tasks, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].ID, "priority tasks sort first")
	assert.True(t, tasks[0].Priority)
	assert.Equal(t, second, tasks[1].ID)
	assert.Equal(t, models.TaskOpen, tasks[1].Status)
}

func TestAdd_MissingNoteDoesNotConsumeID(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	addNote(t, store, "a")

	_, err := svc.Add(ctx, "nope", "orphan")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	id, err := svc.Add(ctx, "a", "real")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "failed adds must not advance the counter")
}

func TestDone_MovesTaskAfterOpenOnes(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	addNote(t, store, "a")

	first, _ := svc.Add(ctx, "a", "one")
	second, _ := svc.Add(ctx, "a", "two")
	require.NoError(t, svc.Done(ctx, first))

	tasks, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second, tasks[0].ID)
	assert.Equal(t, models.TaskDone, tasks[1].Status)

	// Completion is idempotent at the record level.
	require.NoError(t, svc.Done(ctx, first))
}

func TestMutate_UnknownID(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Done(ctx, 42), apperr.ErrNotFound)
	assert.ErrorIs(t, svc.Prio(ctx, 42), apperr.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, 42), apperr.ErrNotFound)
}

func TestDelete_RemovesFromOwningNote(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	addNote(t, store, "a")

	id, _ := svc.Add(ctx, "a", "doomed")
	require.NoError(t, svc.Delete(ctx, id))

	tasks, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	next, err := svc.Add(ctx, "a", "fresh")
	require.NoError(t, err)
	assert.Equal(t, id+1, next, "deleted identifiers are never reused")
}

func TestCascadeDeleteWithNote(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	addNote(t, store, "a")
	addNote(t, store, "b")

	_, _ = svc.Add(ctx, "a", "goes away")
	kept, _ := svc.Add(ctx, "b", "stays")

	require.NoError(t, store.Delete("a"))

	tasks, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, kept, tasks[0].ID)
}

func TestResetAll(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	addNote(t, store, "a")
	addNote(t, store, "b")

	_, _ = svc.Add(ctx, "a", "one")
	_, _ = svc.Add(ctx, "b", "two")

	removed, err := svc.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	tasks, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	id, err := svc.Add(ctx, "a", "restart")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "reset restarts identifier allocation")
}
