package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
)

func newTestEmbedder(next *embeddings.MockEmbedder, c *MockCache) *Embedder {
	next.On("Model").Return("test-model").Maybe()
	next.On("Dimensions").Return(2).Maybe()
	return NewEmbedder(next, c, codec.New(2, false), time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEmbedderServesHitsAndFetchesMisses(t *testing.T) {
	next := &embeddings.MockEmbedder{}
	c := &MockCache{}
	e := newTestEmbedder(next, c)
	vc := codec.New(2, false)

	hit, err := vc.EncodeBinary(embeddings.Vector{1, 0})
	require.NoError(t, err)
	keyA, keyB := Key("test-model", 2, "a"), Key("test-model", 2, "b")

	c.On("GetVectors", mock.Anything, []string{keyA, keyB}).Return([][]byte{hit, nil}, nil).Once()
	next.On("EmbedBatch", mock.Anything, []string{"b"}).Return([]embeddings.Vector{{0, 1}}, nil).Once()
	c.On("SetVectors", mock.Anything, mock.MatchedBy(func(m map[string][]byte) bool {
		_, ok := m[keyB]
		return len(m) == 1 && ok
	}), time.Hour).Return(nil).Once()

	got, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []embeddings.Vector{{1, 0}, {0, 1}}, got)
	next.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestEmbedderAllHitsSkipsProvider(t *testing.T) {
	next := &embeddings.MockEmbedder{}
	c := &MockCache{}
	e := newTestEmbedder(next, c)
	hit, err := codec.New(2, false).EncodeBinary(embeddings.Vector{0.5, 0.5})
	require.NoError(t, err)

	c.On("GetVectors", mock.Anything, mock.Anything).Return([][]byte{hit}, nil).Once()

	got, err := e.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0.5, 0.5}, got)
	next.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestEmbedderDegradesOnCacheFailure(t *testing.T) {
	next := &embeddings.MockEmbedder{}
	c := &MockCache{}
	e := newTestEmbedder(next, c)

	c.On("GetVectors", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()
	c.On("SetVectors", mock.Anything, mock.Anything, time.Hour).Return(errors.New("connection refused")).Once()
	next.On("EmbedBatch", mock.Anything, []string{"a"}).Return([]embeddings.Vector{{1, 0}}, nil).Once()

	got, err := e.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{1, 0}, got)
}

func TestEmbedderTreatsCorruptEntryAsMiss(t *testing.T) {
	next := &embeddings.MockEmbedder{}
	c := &MockCache{}
	e := newTestEmbedder(next, c)

	c.On("GetVectors", mock.Anything, mock.Anything).Return([][]byte{{1, 2, 3}}, nil).Once()
	c.On("SetVectors", mock.Anything, mock.Anything, time.Hour).Return(nil).Once()
	next.On("EmbedBatch", mock.Anything, []string{"a"}).Return([]embeddings.Vector{{0, 1}}, nil).Once()

	got, err := e.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0, 1}, got)
}

func TestEmbedderPropagatesProviderError(t *testing.T) {
	next := &embeddings.MockEmbedder{}
	c := &MockCache{}
	e := newTestEmbedder(next, c)
	providerErr := &embeddings.EncodingError{Model: "test-model", Texts: 1, Err: errors.New("quota")}

	c.On("GetVectors", mock.Anything, mock.Anything).Return([][]byte{nil}, nil).Once()
	next.On("EmbedBatch", mock.Anything, []string{"a"}).Return(nil, providerErr).Once()

	_, err := e.Embed(context.Background(), "a")
	assert.ErrorIs(t, err, providerErr)
	c.AssertNotCalled(t, "SetVectors", mock.Anything, mock.Anything, mock.Anything)
}
