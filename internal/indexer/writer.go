// Package indexer encodes person attributes and writes the vectors to the
// store in atomic batches.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
	"person-vectors/internal/retry"
	"person-vectors/internal/store"
)

var ErrInvalidBatchSize = errors.New("batch size must be positive")

// BatchPartialFailureError reports a populate run that stopped at Batch.
// Committed records from earlier batches remain in the store.
type BatchPartialFailureError struct {
	Committed int
	Batch     int
	Err       error
}

func (e *BatchPartialFailureError) Error() string {
	return fmt.Sprintf("batch %d failed after %d committed records: %v", e.Batch, e.Committed, e.Err)
}

func (e *BatchPartialFailureError) Unwrap() error { return e.Err }

// Options tunes encoding concurrency and retry behaviour.
type Options struct {
	Workers    int
	Chunk      int
	MaxRetries int
	RetryBase  time.Duration
	Timeout    time.Duration
	// PageSize bounds rows read per ListEntities call; defaults to the batch size.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Chunk <= 0 {
		o.Chunk = 32
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Writer populates person_vectors for the allow-listed attributes.
type Writer struct {
	store    store.Store
	embedder embeddings.Embedder
	codec    codec.Codec
	attrs    person.AllowList
	opts     Options
	log      *slog.Logger
}

func NewWriter(st store.Store, emb embeddings.Embedder, c codec.Codec, attrs person.AllowList, opts Options, log *slog.Logger) (*Writer, error) {
	if attrs.Len() == 0 {
		return nil, person.ErrEmptyAllowList
	}
	if d := emb.Dimensions(); d != c.Dimension {
		return nil, fmt.Errorf("provider dimension %d does not match configured %d", d, c.Dimension)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{store: st, embedder: emb, codec: c, attrs: attrs, opts: opts.withDefaults(), log: log}, nil
}

// Populate encodes every allow-listed attribute of entities and upserts the
// vectors batchSize records at a time. It returns the number of records
// committed.
func (w *Writer) Populate(ctx context.Context, entities []person.Entity, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, ErrInvalidBatchSize
	}
	b := w.newBatcher(batchSize)
	for _, e := range entities {
		if err := b.add(ctx, e); err != nil {
			return b.committed, err
		}
	}
	return b.finish(ctx)
}

// PopulateAll indexes the whole person table, reading it in keyset pages
// ordered by person_id.
func (w *Writer) PopulateAll(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, ErrInvalidBatchSize
	}
	pageSize := w.opts.PageSize
	if pageSize <= 0 {
		pageSize = batchSize
	}

	b := w.newBatcher(batchSize)
	var after int64
	for {
		var page []person.Entity
		err := w.withStoreRetry(ctx, func(ctx context.Context) error {
			var err error
			page, err = w.store.ListEntities(ctx, after, pageSize)
			return err
		})
		if err != nil {
			return b.committed, &BatchPartialFailureError{Committed: b.committed, Batch: b.batch + 1, Err: err}
		}
		for _, e := range page {
			if err := b.add(ctx, e); err != nil {
				return b.committed, err
			}
		}
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	return b.finish(ctx)
}

// PopulateIDs loads the given people and populates them. Unknown ids are
// skipped; if none exist store.ErrEntityNotFound is returned.
func (w *Writer) PopulateIDs(ctx context.Context, ids []int64, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, ErrInvalidBatchSize
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var entities []person.Entity
	err := w.withStoreRetry(ctx, func(ctx context.Context) error {
		var err error
		entities, err = w.store.GetEntities(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(entities) == 0 {
		return 0, fmt.Errorf("%w: %v", store.ErrEntityNotFound, ids)
	}
	if missing := len(ids) - len(entities); missing > 0 {
		w.log.Warn("skipping unknown people", "requested", len(ids), "missing", missing)
	}
	return w.Populate(ctx, entities, batchSize)
}

// Remove deletes every stored vector of the given people.
func (w *Writer) Remove(ctx context.Context, ids []int64) error {
	return w.withStoreRetry(ctx, func(ctx context.Context) error {
		return w.store.DeleteVectors(ctx, ids)
	})
}

// Counts returns the number of stored vectors per allow-listed attribute.
func (w *Writer) Counts(ctx context.Context) (map[person.Attribute]int, error) {
	out := make(map[person.Attribute]int, w.attrs.Len())
	for _, a := range w.attrs.Attributes() {
		var n int
		err := w.withStoreRetry(ctx, func(ctx context.Context) error {
			var err error
			n, err = w.store.CountVectors(ctx, a)
			return err
		})
		if err != nil {
			return nil, err
		}
		out[a] = n
	}
	return out, nil
}

// Attributes returns the allow-listed attributes in order.
func (w *Writer) Attributes() []person.Attribute {
	return w.attrs.Attributes()
}

func (w *Writer) withStoreRetry(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, w.opts.MaxRetries+1, w.opts.RetryBase, store.IsTransient, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
		return fn(ctx)
	})
}

// encode returns one validated vector per text, in order. Texts are split
// into chunks encoded concurrently by at most Workers goroutines.
func (w *Writer) encode(ctx context.Context, texts []string) ([]embeddings.Vector, error) {
	out := make([]embeddings.Vector, len(texts))
	model := w.embedder.Model()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for start := 0; start < len(texts); start += w.opts.Chunk {
		end := min(start+w.opts.Chunk, len(texts))
		chunk := texts[start:end]
		dst := out[start:end]
		g.Go(func() error {
			return retry.Do(gctx, w.opts.MaxRetries+1, w.opts.RetryBase, retryableEncode, func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
				defer cancel()
				vecs, err := w.embedder.EmbedBatch(ctx, chunk)
				if err != nil {
					return embeddings.NewEncodingError(model, len(chunk), err)
				}
				if len(vecs) != len(chunk) {
					return embeddings.NewEncodingError(model, len(chunk),
						fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(chunk)))
				}
				copy(dst, vecs)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, v := range out {
		if err := w.codec.Validate(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func retryableEncode(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Retryable reports whether running the same populate again may succeed.
// Transient store failures, provider failures and cancellation qualify;
// invalid input, malformed vectors and fatal store errors do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var mv *codec.MalformedVectorError
	if errors.As(err, &mv) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if store.IsTransient(err) {
		return true
	}
	var ee *embeddings.EncodingError
	return errors.As(err, &ee)
}
