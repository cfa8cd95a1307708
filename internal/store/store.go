package store

import (
	"context"
	"database/sql"
	"errors"

	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
)

var (
	ErrVectorNotFound = errors.New("vector not found")
	ErrEntityNotFound = errors.New("entity not found")
)

// VectorRecord is the embedding of one attribute of one person.
type VectorRecord struct {
	EntityID  int64
	Attribute person.Attribute
	Model     string
	Vector    embeddings.Vector
}

// ScoredEntity is a search hit. Similarity is 1 - Distance.
type ScoredEntity struct {
	Entity     person.Entity
	Distance   float64
	Similarity float64
}

// Store defines persistence contract for the person table (read-only) and
// the person_vectors index table.
type Store interface {
	// ListEntities returns up to limit people with person_id > afterID, ordered by person_id.
	ListEntities(ctx context.Context, afterID int64, limit int) ([]person.Entity, error)
	GetEntities(ctx context.Context, ids []int64) ([]person.Entity, error)
	// UpsertVectors replaces or inserts all records in a single transaction.
	UpsertVectors(ctx context.Context, records []VectorRecord) error
	// SearchNearest ranks attr vectors by cosine distance to query, ties by person_id.
	SearchNearest(ctx context.Context, attr person.Attribute, query embeddings.Vector, k int) ([]ScoredEntity, error)
	GetVector(ctx context.Context, entityID int64, attr person.Attribute) (VectorRecord, error)
	CountVectors(ctx context.Context, attr person.Attribute) (int, error)
	DeleteVectors(ctx context.Context, entityIDs []int64) error
	Close() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity reads the eight person columns followed by any extra destinations.
func scanEntity(row rowScanner, extra ...any) (person.Entity, error) {
	var (
		e                       person.Entity
		first, middle, last     sql.NullString
		suffix, preferred, full sql.NullString
		birth                   sql.NullString
	)
	dest := append([]any{&e.ID, &first, &middle, &last, &suffix, &preferred, &full, &birth}, extra...)
	if err := row.Scan(dest...); err != nil {
		return person.Entity{}, err
	}
	e.FirstName = first.String
	e.MiddleName = middle.String
	e.LastName = last.String
	e.Suffix = suffix.String
	e.PreferredName = preferred.String
	e.FullName = full.String
	e.BirthDate = birth.String
	return e, nil
}

func newScored(e person.Entity, distance float64) ScoredEntity {
	return ScoredEntity{Entity: e, Distance: distance, Similarity: 1 - distance}
}

// dedupeRecords keeps the last record for each (EntityID, Attribute) pair,
// preserving first-seen order. A single upsert statement may not touch the
// same row twice.
func dedupeRecords(records []VectorRecord) []VectorRecord {
	type key struct {
		id   int64
		attr person.Attribute
	}
	pos := make(map[key]int, len(records))
	out := make([]VectorRecord, 0, len(records))
	for _, r := range records {
		k := key{r.EntityID, r.Attribute}
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
