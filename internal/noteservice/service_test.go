package noteservice

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
	coord := syncer.New(store, testutil.TestDB(t), logger, 4)
	return NewService(store, coord, nil), store
}

func TestCreateGetDelete(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	detail, err := svc.Create(ctx, "intro", "Introduction", "# Hi\n", []string{"draft"})
	require.NoError(t, err)
	assert.Equal(t, "intro", detail.Key)
	assert.Equal(t, []string{"draft"}, detail.Tags)
	assert.NotEmpty(t, detail.Checksum)
	assert.False(t, detail.CreatedAt.IsZero())

	got, err := svc.Get(ctx, "intro")
	require.NoError(t, err)
	assert.Equal(t, detail.Body, got.Body)

	require.NoError(t, svc.Delete(ctx, "intro"))
	_, err = svc.Get(ctx, "intro")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateBody_OptimisticConcurrency(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	detail, err := svc.Create(ctx, "doc", "", "v1", nil)
	require.NoError(t, err)

	_, err = svc.UpdateBody(ctx, "doc", "v2", "bogus-checksum")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	got, _ := svc.Get(ctx, "doc")
	assert.Equal(t, "v1", got.Body, "failed write must leave prior record intact")

	updated, err := svc.UpdateBody(ctx, "doc", "v2", detail.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Body)
	assert.True(t, updated.ModifiedAt.After(detail.CreatedAt) || updated.ModifiedAt.Equal(detail.CreatedAt))
	assert.Equal(t, detail.CreatedAt, updated.CreatedAt, "created timestamp is immutable")
}

func TestTagOperations(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "tagged", "", "body", nil)
	require.NoError(t, err)

	d, err := svc.AddTag(ctx, "tagged", "work")
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, d.Tags)

	// Adding the same tag again is a no-op and must not advance anything.
	before := d.ModifiedAt
	d, err = svc.AddTag(ctx, "tagged", "work")
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, d.Tags)
	assert.Equal(t, before, d.ModifiedAt)

	d, err = svc.RemoveTag(ctx, "tagged", "work")
	require.NoError(t, err)
	assert.Empty(t, d.Tags)

	_, err = svc.AddTag(ctx, "missing", "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestList_SortAndTagFilter(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _ = svc.Create(ctx, "b", "", "second", []string{"keep"})
	_, _ = svc.Create(ctx, "a", "", "first", nil)
	_, _ = svc.Create(ctx, "c", "", "third", []string{"keep"})

	items, err := svc.List(ctx, models.SortByKey, "")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, "c", items[2].Key)

	items, err = svc.List(ctx, models.SortByKey, "keep")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].Key)
	assert.Equal(t, "c", items[1].Key)
}

func TestSearchAndBacklinks_Scenario(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "a", "", "hello world", nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "b", "", "world peace performance", nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "c", "", "[[a]] referenced", nil)
	require.NoError(t, err)

	results, err := svc.Search(ctx, "world")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Equal term frequency; ties break by key ascending.
	assert.Equal(t, "a", results[0].Key)
	assert.Equal(t, "b", results[1].Key)

	bl, err := svc.Backlinks(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, bl)

	require.NoError(t, svc.Delete(ctx, "a"))
	bl, err = svc.Backlinks(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, bl, "a no longer exists but c still links to it")

	results, err = svc.Search(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBacklinks_SurviveLinkSourceOnly(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "target", "", "plain", nil)
	_, _ = svc.Create(ctx, "src", "", "see [[Target]]", nil)

	d, err := svc.Get(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, []string{"src"}, d.Backlinks, "detail enrichment is case-insensitive")
}

func TestExportImport_RoundTrip(t *testing.T) {
	src, _ := testService(t)
	dst, _ := testService(t)
	ctx := context.Background()

	_, _ = src.Create(ctx, "one", "First", "alpha", []string{"t1"})
	_, _ = src.Create(ctx, "two", "Second", "beta [[one]]", []string{"t2", "t3"})

	exported, err := src.ExportAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, exported, 2)

	for i := range exported {
		written, err := dst.ImportOne(ctx, &exported[i], models.ConflictFail)
		require.NoError(t, err)
		assert.True(t, written)
	}

	got, err := dst.ExportAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range exported {
		assert.Equal(t, exported[i].Key, got[i].Key)
		assert.Equal(t, exported[i].Title, got[i].Title)
		assert.Equal(t, exported[i].Body, got[i].Body)
		assert.Equal(t, exported[i].Tags, got[i].Tags)
	}

	// Derived state follows the imported records.
	bl, err := dst.Backlinks(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, bl)
}

func TestExportAll_TagFilter(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _ = svc.Create(ctx, "one", "", "alpha", []string{"work"})
	_, _ = svc.Create(ctx, "two", "", "beta", []string{"home"})
	_, _ = svc.Create(ctx, "three", "", "gamma", []string{"work", "home"})

	exported, err := svc.ExportAll(ctx, "work")
	require.NoError(t, err)
	require.Len(t, exported, 2)
	assert.Equal(t, "one", exported[0].Key)
	assert.Equal(t, "three", exported[1].Key)

	exported, err = svc.ExportAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, exported)
}

func TestImportOne_ConflictPolicies(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, "dup", "", "original", nil)

	incoming := &models.Note{Key: "dup", Body: "imported"}
	written, err := svc.ImportOne(ctx, incoming, models.ConflictSkip)
	require.NoError(t, err)
	assert.False(t, written)
	got, _ := svc.Get(ctx, "dup")
	assert.Equal(t, "original", got.Body)

	_, err = svc.ImportOne(ctx, &models.Note{Key: "dup", Body: "imported"}, models.ConflictFail)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	written, err = svc.ImportOne(ctx, &models.Note{Key: "dup", Body: "imported"}, models.ConflictOverwrite)
	require.NoError(t, err)
	assert.True(t, written)
	got, _ = svc.Get(ctx, "dup")
	assert.Equal(t, "imported", got.Body)
}

func TestImport_TaskIDsAdvanceCounter(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	incoming := &models.Note{
		Key:   "carried",
		Body:  "has tasks",
		Tasks: []models.Task{{ID: 9, NoteKey: "carried", Description: "old", Status: models.TaskOpen}},
	}
	written, err := svc.ImportOne(ctx, incoming, models.ConflictFail)
	require.NoError(t, err)
	require.True(t, written)

	id, err := store.NextTaskID()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), id, "imported identifiers must never be reallocated")
}

func TestImportMany_BulkMarksStale(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	// Threshold in testService is 4; import 6 notes in one batch.
	var batch []*models.Note
	for _, k := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		batch = append(batch, &models.Note{Key: k, Body: "bulk " + k})
	}
	written, err := svc.ImportMany(ctx, batch, models.ConflictFail)
	require.NoError(t, err)
	assert.Equal(t, 6, written)

	// The read path must still see all of them (lazy rebuild).
	results, err := svc.Search(ctx, "bulk")
	require.NoError(t, err)
	assert.Len(t, results, 6)
}

func TestRebuild_ConvergesWithDeltas(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	_, _ = svc.Create(ctx, "a", "", "shared token alpha", nil)
	_, _ = svc.Create(ctx, "b", "", "shared token beta", nil)
	_, _ = svc.UpdateBody(ctx, "a", "shared shared gamma", "")
	_ = svc.Delete(ctx, "b")

	incremental, err := svc.Search(ctx, "shared")
	require.NoError(t, err)

	require.NoError(t, svc.Rebuild(ctx))
	rebuilt, err := svc.Search(ctx, "shared")
	require.NoError(t, err)

	assert.Equal(t, incremental, rebuilt, "delta application and full rebuild must converge")
}
