package indexer

import (
	"context"

	"person-vectors/internal/person"
	"person-vectors/internal/store"
)

type recordKey struct {
	id   int64
	attr person.Attribute
}

type pendingRecord struct {
	key  recordKey
	text string
}

// batcher buffers at most size records and flushes them as one upsert.
type batcher struct {
	w         *Writer
	size      int
	pending   []pendingRecord
	index     map[recordKey]int
	committed int
	batch     int
}

func (w *Writer) newBatcher(size int) *batcher {
	return &batcher{
		w:       w,
		size:    size,
		pending: make([]pendingRecord, 0, size),
		index:   make(map[recordKey]int, size),
	}
}

// add queues every allow-listed attribute of e. A repeated (person,
// attribute) key in the current batch replaces the queued text.
func (b *batcher) add(ctx context.Context, e person.Entity) error {
	for _, a := range b.w.attrs.Attributes() {
		k := recordKey{id: e.ID, attr: a}
		text := a.Text(e)
		if i, ok := b.index[k]; ok {
			b.pending[i].text = text
			continue
		}
		b.index[k] = len(b.pending)
		b.pending = append(b.pending, pendingRecord{key: k, text: text})
		if len(b.pending) >= b.size {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batcher) finish(ctx context.Context) (int, error) {
	if err := b.flush(ctx); err != nil {
		return b.committed, err
	}
	return b.committed, nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	b.batch++
	if err := ctx.Err(); err != nil {
		return b.fail(err)
	}

	// Identical texts within a batch are encoded once.
	unique := make([]string, 0, len(b.pending))
	slot := make(map[string]int, len(b.pending))
	refs := make([]int, len(b.pending))
	for i, p := range b.pending {
		j, ok := slot[p.text]
		if !ok {
			j = len(unique)
			slot[p.text] = j
			unique = append(unique, p.text)
		}
		refs[i] = j
	}

	vecs, err := b.w.encode(ctx, unique)
	if err != nil {
		return b.fail(err)
	}

	model := b.w.embedder.Model()
	records := make([]store.VectorRecord, len(b.pending))
	for i, p := range b.pending {
		records[i] = store.VectorRecord{
			EntityID:  p.key.id,
			Attribute: p.key.attr,
			Model:     model,
			Vector:    vecs[refs[i]],
		}
	}

	err = b.w.withStoreRetry(ctx, func(ctx context.Context) error {
		return b.w.store.UpsertVectors(ctx, records)
	})
	if err != nil {
		return b.fail(err)
	}

	b.committed += len(records)
	b.w.log.Info("batch committed",
		"batch", b.batch,
		"records", len(records),
		"distinct_texts", len(unique),
		"committed", b.committed,
	)
	b.pending = b.pending[:0]
	clear(b.index)
	return nil
}

func (b *batcher) fail(err error) error {
	b.w.log.Error("batch failed", "batch", b.batch, "committed", b.committed, "err", err)
	return &BatchPartialFailureError{Committed: b.committed, Batch: b.batch, Err: err}
}
