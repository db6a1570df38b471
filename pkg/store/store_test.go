package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestUpload(t *testing.T, s *Store, hash string, created time.Time) *Upload {
	t.Helper()
	u := &Upload{Name: hash + ".csv", Hash: hash, Rows: 2, CreatedAt: created}
	require.NoError(t, s.SaveUpload(context.Background(), u, []byte("content-"+hash), nil))
	return u
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := setupTestStore(t)
	list, err := s.ListUploads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNilStore(t *testing.T) {
	var s *Store
	ctx := context.Background()
	_, err := s.ListUploads(ctx)
	assert.Error(t, err)
	_, err = s.GetScores(ctx, uuid.New())
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}

func TestSaveAndGetUpload(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	u := saveTestUpload(t, s, "abc", created)
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, int64(len("content-abc")), u.Size)

	got, err := s.GetUploadByHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "abc.csv", got.Name)
	assert.Equal(t, 2, got.Rows)
	assert.True(t, created.Equal(got.CreatedAt))

	got, err = s.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Hash)

	b, err := s.GetContent(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("content-abc"), b)
}

func TestSaveUpload_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	assert.Error(t, s.SaveUpload(ctx, nil, nil, nil))
	assert.Error(t, s.SaveUpload(ctx, &Upload{Name: "x"}, nil, nil))
}

func TestSaveUpload_DuplicateHash(t *testing.T) {
	s := setupTestStore(t)
	saveTestUpload(t, s, "dup", time.Now())
	err := s.SaveUpload(context.Background(), &Upload{Hash: "dup"}, []byte("x"), []float64{0.4})
	assert.Error(t, err)

	list, err := s.ListUploads(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveUpload_WithScores(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	u := &Upload{Name: "a.csv", Hash: "with-scores", Rows: 3}
	require.NoError(t, s.SaveUpload(ctx, u, []byte("x"), []float64{0.2, math.NaN(), 0.7}))

	got, err := s.GetScores(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0.2, got[0])
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, 0.7, got[2])
}

func TestSaveUpload_CanceledLeavesNothing(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveUpload(ctx, &Upload{Name: "a.csv", Hash: "canceled"}, []byte("x"), []float64{0.1})
	require.Error(t, err)

	_, err = s.GetUploadByHash(context.Background(), "canceled")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUpload_NotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetUploadByHash(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetUpload(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetContent(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetScores(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Touch(ctx, uuid.New()), ErrNotFound)
	assert.ErrorIs(t, s.DeleteUpload(ctx, uuid.New()), ErrNotFound)
}

func TestSaveAndGetScores(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := saveTestUpload(t, s, "scores", time.Now())

	want := []float64{0.1, 0.8, math.NaN(), 0.3}
	require.NoError(t, s.SaveScores(ctx, u.ID, want))

	got, err := s.GetScores(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	assert.Equal(t, 0.1, got[0])
	assert.Equal(t, 0.8, got[1])
	assert.True(t, math.IsNaN(got[2]))
	assert.Equal(t, 0.3, got[3])

	// replace
	require.NoError(t, s.SaveScores(ctx, u.ID, []float64{0.5}))
	got, err = s.GetScores(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, got)
}

func TestGetScores_NotScored(t *testing.T) {
	s := setupTestStore(t)
	u := saveTestUpload(t, s, "empty", time.Now())
	got, err := s.GetScores(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteUpload(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	u := saveTestUpload(t, s, "gone", time.Now())
	require.NoError(t, s.SaveScores(ctx, u.ID, []float64{0.1}))

	require.NoError(t, s.DeleteUpload(ctx, u.ID))
	_, err := s.GetUpload(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetScores(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUploads_MostRecentlyUsedFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC()

	a := saveTestUpload(t, s, "a", base)
	b := saveTestUpload(t, s, "b", base.Add(time.Minute))
	c := saveTestUpload(t, s, "c", base.Add(2*time.Minute))

	list, err := s.ListUploads(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uuid.UUID{c.ID, b.ID, a.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})

	require.NoError(t, s.Touch(ctx, a.ID))
	list, err = s.ListUploads(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestPrune(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC()

	a := saveTestUpload(t, s, "a", base)
	b := saveTestUpload(t, s, "b", base.Add(time.Minute))
	c := saveTestUpload(t, s, "c", base.Add(2*time.Minute))
	require.NoError(t, s.SaveScores(ctx, a.ID, []float64{0.1}))

	removed, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, removed)

	list, err := s.ListUploads(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	removed, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, removed)
}
