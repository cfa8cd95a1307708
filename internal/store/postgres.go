package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
)

const (
	pgEntityColumns = `p.person_id, p.first_name, p.middle_name, p.last_name, p.suffix, p.preferred_name, p.full_name, p.birth_date::text`

	pgListEntities = `SELECT ` + pgEntityColumns + `
		FROM person p
		WHERE p.person_id > $1
		ORDER BY p.person_id
		LIMIT $2`

	pgGetEntities = `SELECT ` + pgEntityColumns + `
		FROM person p
		WHERE p.person_id = ANY($1::bigint[])
		ORDER BY p.person_id`

	// One statement per batch: the arrays are zipped by unnest and each
	// literal is cast by pgvector, which rejects malformed input.
	pgUpsertVectors = `
		INSERT INTO person_vectors (person_id, attribute, model, vector, updated_at)
		SELECT t.person_id, t.attribute, t.model, t.vector::vector, now()
		FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[]) AS t(person_id, attribute, model, vector)
		ON CONFLICT (person_id, attribute) DO UPDATE
		SET model = excluded.model, vector = excluded.vector, updated_at = excluded.updated_at`

	// pgvector returns NaN for zero-norm operands; those rank as distance 1.
	pgSearchNearest = `
		SELECT ` + pgEntityColumns + `,
			CASE WHEN vector_norm(v.vector) = 0 OR vector_norm($1::vector) = 0 THEN 1.0
				ELSE (v.vector <=> $1::vector) END AS distance
		FROM person_vectors v
		JOIN person p ON p.person_id = v.person_id
		WHERE v.attribute = $2
		ORDER BY distance ASC, p.person_id ASC
		LIMIT $3`

	pgGetVector    = `SELECT model, vector::text FROM person_vectors WHERE person_id = $1 AND attribute = $2`
	pgCountVectors = `SELECT count(*) FROM person_vectors WHERE attribute = $1`
	pgDeleteVector = `DELETE FROM person_vectors WHERE person_id = ANY($1::bigint[])`

	pgCheckDimension = `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = 'person_vectors' AND a.attname = 'vector'`
)

// PostgresStore keeps vectors in a pgvector column and ranks them with the
// exact cosine distance operator. No ANN index is created.
type PostgresStore struct {
	db    *sql.DB
	codec codec.Codec
	log   *slog.Logger
}

func NewPostgres(ctx context.Context, dsn string, c codec.Codec, log *slog.Logger) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, codec: c, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Use advisory lock to prevent concurrent migrations from multiple services.
	const lockID = 384000001

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another service is running migrations; wait briefly and skip
		s.log.Info("migration lock held elsewhere, skipping migration")
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// The person table is owned elsewhere; only the index table is created here.
	// The dimension is the only interpolated value and it is an integer.
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS person_vectors (
			person_id BIGINT NOT NULL REFERENCES person(person_id) ON DELETE CASCADE,
			attribute TEXT NOT NULL,
			model TEXT NOT NULL,
			vector vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (person_id, attribute)
		);`, s.codec.Dimension),
		`CREATE INDEX IF NOT EXISTS person_vectors_attribute_idx ON person_vectors (attribute);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var dim int
	err = s.db.QueryRowContext(ctx, pgCheckDimension).Scan(&dim)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check vector dimension: %w", err)
	}
	if err == nil && dim != s.codec.Dimension {
		return fmt.Errorf("person_vectors.vector has dimension %d, provider has %d", dim, s.codec.Dimension)
	}
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, afterID int64, limit int) ([]person.Entity, error) {
	rows, err := s.db.QueryContext(ctx, pgListEntities, afterID, limit)
	if err != nil {
		return nil, wrapErr("list entities", err)
	}
	defer rows.Close()
	return collectEntities("list entities", rows)
}

func (s *PostgresStore) GetEntities(ctx context.Context, ids []int64) ([]person.Entity, error) {
	if len(ids) == 0 {
		return []person.Entity{}, nil
	}
	rows, err := s.db.QueryContext(ctx, pgGetEntities, pq.Array(ids))
	if err != nil {
		return nil, wrapErr("get entities", err)
	}
	defer rows.Close()
	return collectEntities("get entities", rows)
}

func (s *PostgresStore) UpsertVectors(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	records = dedupeRecords(records)
	ids := make([]int64, len(records))
	attrs := make([]string, len(records))
	models := make([]string, len(records))
	vectors := make([]string, len(records))
	for i, r := range records {
		lit, err := s.codec.EncodeText(r.Vector)
		if err != nil {
			return err
		}
		ids[i] = r.EntityID
		attrs[i] = string(r.Attribute)
		models[i] = r.Model
		vectors[i] = lit
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin upsert", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, pgUpsertVectors,
		pq.Array(ids), pq.Array(attrs), pq.Array(models), pq.Array(vectors)); err != nil {
		return wrapErr("upsert vectors", err)
	}
	return wrapErr("commit upsert", tx.Commit())
}

func (s *PostgresStore) SearchNearest(ctx context.Context, attr person.Attribute, query embeddings.Vector, k int) ([]ScoredEntity, error) {
	lit, err := s.codec.EncodeText(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, pgSearchNearest, lit, string(attr), k)
	if err != nil {
		return nil, wrapErr("search", err)
	}
	defer rows.Close()

	results := []ScoredEntity{}
	for rows.Next() {
		var distance float64
		e, err := scanEntity(rows, &distance)
		if err != nil {
			return nil, wrapErr("search", err)
		}
		results = append(results, newScored(e, distance))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("search", err)
	}
	return results, nil
}

func (s *PostgresStore) GetVector(ctx context.Context, entityID int64, attr person.Attribute) (VectorRecord, error) {
	var model, lit string
	err := s.db.QueryRowContext(ctx, pgGetVector, entityID, string(attr)).Scan(&model, &lit)
	if errors.Is(err, sql.ErrNoRows) {
		return VectorRecord{}, ErrVectorNotFound
	}
	if err != nil {
		return VectorRecord{}, wrapErr("get vector", err)
	}
	vec, err := s.codec.DecodeText(lit)
	if err != nil {
		return VectorRecord{}, err
	}
	return VectorRecord{EntityID: entityID, Attribute: attr, Model: model, Vector: vec}, nil
}

func (s *PostgresStore) CountVectors(ctx context.Context, attr person.Attribute) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, pgCountVectors, string(attr)).Scan(&n); err != nil {
		return 0, wrapErr("count vectors", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteVectors(ctx context.Context, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, pgDeleteVector, pq.Array(entityIDs))
	return wrapErr("delete vectors", err)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func collectEntities(op string, rows *sql.Rows) ([]person.Entity, error) {
	out := []person.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
