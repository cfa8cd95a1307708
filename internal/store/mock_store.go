package store

import (
	"context"

	"github.com/stretchr/testify/mock"

	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListEntities(ctx context.Context, afterID int64, limit int) ([]person.Entity, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]person.Entity), args.Error(1)
}

func (m *MockStore) GetEntities(ctx context.Context, ids []int64) ([]person.Entity, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]person.Entity), args.Error(1)
}

func (m *MockStore) UpsertVectors(ctx context.Context, records []VectorRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockStore) SearchNearest(ctx context.Context, attr person.Attribute, query embeddings.Vector, k int) ([]ScoredEntity, error) {
	args := m.Called(ctx, attr, query, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ScoredEntity), args.Error(1)
}

func (m *MockStore) GetVector(ctx context.Context, entityID int64, attr person.Attribute) (VectorRecord, error) {
	args := m.Called(ctx, entityID, attr)
	return args.Get(0).(VectorRecord), args.Error(1)
}

func (m *MockStore) CountVectors(ctx context.Context, attr person.Attribute) (int, error) {
	args := m.Called(ctx, attr)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) DeleteVectors(ctx context.Context, entityIDs []int64) error {
	args := m.Called(ctx, entityIDs)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
