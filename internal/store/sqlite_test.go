package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
)

const testDim = 4

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "people.db"), codec.New(testDim, false), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertPeople(t *testing.T, s *SQLiteStore, people ...person.Entity) {
	t.Helper()
	require.NoError(t, s.InsertEntities(context.Background(), people))
}

func rec(id int64, attr person.Attribute, v ...float32) VectorRecord {
	return VectorRecord{EntityID: id, Attribute: attr, Model: "test-model", Vector: embeddings.Vector(v)}
}

func TestSQLiteListEntitiesPages(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s,
		person.Entity{ID: 3, FullName: "C"},
		person.Entity{ID: 1, FullName: "A", BirthDate: "1990-01-01"},
		person.Entity{ID: 2, FullName: "B"},
	)
	ctx := context.Background()

	page, err := s.ListEntities(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].ID)
	assert.Equal(t, "1990-01-01", page[0].BirthDate)
	assert.Equal(t, int64(2), page[1].ID)

	page, err = s.ListEntities(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].ID)

	page, err = s.ListEntities(ctx, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSQLiteGetEntities(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1, FirstName: "Jane"}, person.Entity{ID: 2, FirstName: "John"})

	got, err := s.GetEntities(context.Background(), []int64{2, 99})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "John", got[0].FirstName)

	got, err = s.GetEntities(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteUpsertIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1, FullName: "Jane Doe"})
	ctx := context.Background()

	require.NoError(t, s.UpsertVectors(ctx, []VectorRecord{rec(1, person.FullName, 1, 0, 0, 0)}))
	require.NoError(t, s.UpsertVectors(ctx, []VectorRecord{rec(1, person.FullName, 0, 1, 0, 0)}))

	n, err := s.CountVectors(ctx, person.FullName)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetVector(ctx, 1, person.FullName)
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0, 1, 0, 0}, got.Vector)
	assert.Equal(t, "test-model", got.Model)
}

func TestSQLiteUpsertDuplicateKeysLastWins(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1})
	ctx := context.Background()

	require.NoError(t, s.UpsertVectors(ctx, []VectorRecord{
		rec(1, person.FirstName, 1, 0, 0, 0),
		rec(1, person.FirstName, 0, 0, 1, 0),
	}))
	got, err := s.GetVector(ctx, 1, person.FirstName)
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0, 0, 1, 0}, got.Vector)
}

func TestSQLiteUpsertRollsBackWholeBatch(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1})
	ctx := context.Background()

	// person 42 does not exist, so the foreign key fails the batch.
	err := s.UpsertVectors(ctx, []VectorRecord{
		rec(1, person.FullName, 1, 0, 0, 0),
		rec(42, person.FullName, 0, 1, 0, 0),
	})
	require.Error(t, err)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Transient())

	n, err := s.CountVectors(ctx, person.FullName)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteUpsertRejectsMalformedVector(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1})

	err := s.UpsertVectors(context.Background(), []VectorRecord{rec(1, person.FullName, 1, 0)})
	var mv *codec.MalformedVectorError
	require.True(t, errors.As(err, &mv), "got %v", err)
}

func TestSQLiteSearchNearest(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s,
		person.Entity{ID: 1, FullName: "Jane Doe"},
		person.Entity{ID: 2, FullName: "John Doe"},
		person.Entity{ID: 3, FullName: "Jane Roe"},
		person.Entity{ID: 4, FullName: "Nobody"},
	)
	ctx := context.Background()
	require.NoError(t, s.UpsertVectors(ctx, []VectorRecord{
		rec(1, person.FullName, 1, 0, 0, 0),
		rec(2, person.FullName, 0, 1, 0, 0),
		rec(3, person.FullName, 1, 1, 0, 0),
		rec(4, person.FullName, 0, 0, 0, 0),
		rec(2, person.LastName, 1, 0, 0, 0),
	}))

	results, err := s.SearchNearest(ctx, person.FullName, embeddings.Vector{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, int64(1), results[0].Entity.ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "Jane Doe", results[0].Entity.FullName)

	assert.Equal(t, int64(3), results[1].Entity.ID)
	assert.InDelta(t, 1-1/1.41421356, results[1].Distance, 1e-5)

	// Orthogonal and zero-norm vectors both sit at distance 1; ties go to the lower id.
	assert.Equal(t, int64(2), results[2].Entity.ID)
	assert.Equal(t, int64(4), results[3].Entity.ID)
	assert.InDelta(t, 1.0, results[2].Distance, 1e-6)
	assert.InDelta(t, 1.0, results[3].Distance, 1e-6)

	limited, err := s.SearchNearest(ctx, person.FullName, embeddings.Vector{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, results[:2], limited)
}

func TestSQLiteSearchNearestEmpty(t *testing.T) {
	s := newTestSQLite(t)

	results, err := s.SearchNearest(context.Background(), person.Suffix, embeddings.Vector{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSQLiteGetVectorNotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetVector(context.Background(), 7, person.FullName)
	assert.ErrorIs(t, err, ErrVectorNotFound)
}

func TestSQLiteDeletingPersonCascades(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1}, person.Entity{ID: 2})
	ctx := context.Background()
	require.NoError(t, s.UpsertVectors(ctx, []VectorRecord{
		rec(1, person.FullName, 1, 0, 0, 0),
		rec(2, person.FullName, 0, 1, 0, 0),
	}))

	_, err := s.db.Exec(`DELETE FROM person WHERE person_id = 1`)
	require.NoError(t, err)

	n, err := s.CountVectors(ctx, person.FullName)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteVectors(ctx, []int64{2}))
	n, err = s.CountVectors(ctx, person.FullName)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteReopenKeepsVectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := NewSQLite(ctx, path, codec.New(testDim, false), log)
	require.NoError(t, err)
	insertPeople(t, s, person.Entity{ID: 1})
	require.NoError(t, s.UpsertVectors(ctx, []VectorRecord{rec(1, person.FullName, 0.25, -0.5, 0.125, 1)}))
	require.NoError(t, s.Close())

	s, err = NewSQLite(ctx, path, codec.New(testDim, false), log)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetVector(ctx, 1, person.FullName)
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0.25, -0.5, 0.125, 1}, got.Vector)
}

func TestSQLiteInsertEntitiesReplaces(t *testing.T) {
	s := newTestSQLite(t)
	insertPeople(t, s, person.Entity{ID: 1, FirstName: "Jane", LastName: "Doe"})
	insertPeople(t, s, person.Entity{ID: 1, FirstName: "Janet"})

	got, err := s.GetEntities(context.Background(), []int64{1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Janet", got[0].FirstName)
	assert.Empty(t, got[0].LastName)
}
