package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"modernc.org/sqlite"

	"person-vectors/internal/codec"
	"person-vectors/internal/embeddings"
	"person-vectors/internal/person"
)

const (
	sqliteEntityColumns = `p.person_id, p.first_name, p.middle_name, p.last_name, p.suffix, p.preferred_name, p.full_name, p.birth_date`

	sqliteListEntities = `SELECT ` + sqliteEntityColumns + `
		FROM person p
		WHERE p.person_id > ?
		ORDER BY p.person_id
		LIMIT ?`

	sqliteGetEntities = `SELECT ` + sqliteEntityColumns + `
		FROM person p
		WHERE p.person_id IN (SELECT value FROM json_each(?))
		ORDER BY p.person_id`

	sqliteUpsertVector = `
		INSERT INTO person_vectors (person_id, attribute, model, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (person_id, attribute) DO UPDATE
		SET model = excluded.model, vector = excluded.vector, updated_at = excluded.updated_at`

	sqliteSearchNearest = `
		SELECT ` + sqliteEntityColumns + `, vec_cosine_distance(v.vector, ?) AS distance
		FROM person_vectors v
		JOIN person p ON p.person_id = v.person_id
		WHERE v.attribute = ?
		ORDER BY distance ASC, p.person_id ASC
		LIMIT ?`

	sqliteInsertEntity = `
		INSERT INTO person (person_id, first_name, middle_name, last_name, suffix, preferred_name, full_name, birth_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (person_id) DO UPDATE
		SET first_name = excluded.first_name, middle_name = excluded.middle_name, last_name = excluded.last_name,
			suffix = excluded.suffix, preferred_name = excluded.preferred_name, full_name = excluded.full_name,
			birth_date = excluded.birth_date`

	sqliteGetVector    = `SELECT model, vector FROM person_vectors WHERE person_id = ? AND attribute = ?`
	sqliteCountVectors = `SELECT count(*) FROM person_vectors WHERE attribute = ?`
	sqliteDeleteVector = `DELETE FROM person_vectors WHERE person_id IN (SELECT value FROM json_each(?))`
)

var registerOnce sync.Once

// registerFunctions makes vec_cosine_distance available on connections
// opened afterwards.
func registerFunctions() {
	registerOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("vec_cosine_distance", 2, cosineDistanceFunc)
	})
}

// cosineDistanceFunc computes 1 - cosine similarity of two little-endian
// float32 BLOBs. Zero-norm operands yield 1.
func cosineDistanceFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	a, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_cosine_distance: want BLOB, got %T", args[0])
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_cosine_distance: want BLOB, got %T", args[1])
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vec_cosine_distance: dimension mismatch %d vs %d", len(a)/4, len(b)/4)
	}
	return embeddings.CosineDistance(codec.ReadBinary(a), codec.ReadBinary(b)), nil
}

// SQLiteStore is the embedded backend. Unlike Postgres, the local database
// file also holds the person table, which is created if missing. A single
// connection serializes all access.
type SQLiteStore struct {
	db    *sql.DB
	codec codec.Codec
	log   *slog.Logger
}

func NewSQLite(ctx context.Context, path string, c codec.Codec, log *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log == nil {
		log = slog.Default()
	}
	registerFunctions()

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, codec: c, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS person (
			person_id INTEGER PRIMARY KEY,
			first_name TEXT,
			middle_name TEXT,
			last_name TEXT,
			suffix TEXT,
			preferred_name TEXT,
			full_name TEXT,
			birth_date TEXT
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS person_vectors (
			person_id INTEGER NOT NULL REFERENCES person(person_id) ON DELETE CASCADE,
			attribute TEXT NOT NULL,
			model TEXT NOT NULL,
			vector BLOB NOT NULL CHECK (length(vector) = %d),
			updated_at TEXT NOT NULL,
			PRIMARY KEY (person_id, attribute)
		);`, s.codec.Dimension*4),
		`CREATE INDEX IF NOT EXISTS person_vectors_attribute_idx ON person_vectors (attribute);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, afterID int64, limit int) ([]person.Entity, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListEntities, afterID, limit)
	if err != nil {
		return nil, wrapErr("list entities", err)
	}
	defer rows.Close()
	return collectEntities("list entities", rows)
}

func (s *SQLiteStore) GetEntities(ctx context.Context, ids []int64) ([]person.Entity, error) {
	if len(ids) == 0 {
		return []person.Entity{}, nil
	}
	idList, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqliteGetEntities, string(idList))
	if err != nil {
		return nil, wrapErr("get entities", err)
	}
	defer rows.Close()
	return collectEntities("get entities", rows)
}

func (s *SQLiteStore) UpsertVectors(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	records = dedupeRecords(records)
	blobs := make([][]byte, len(records))
	for i, r := range records {
		b, err := s.codec.EncodeBinary(r.Vector)
		if err != nil {
			return err
		}
		blobs[i] = b
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertVector)
	if err != nil {
		return wrapErr("prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, r.EntityID, string(r.Attribute), r.Model, blobs[i], now); err != nil {
			return wrapErr("upsert vectors", fmt.Errorf("person %d %s: %w", r.EntityID, r.Attribute, err))
		}
	}
	return wrapErr("commit upsert", tx.Commit())
}

func (s *SQLiteStore) SearchNearest(ctx context.Context, attr person.Attribute, query embeddings.Vector, k int) ([]ScoredEntity, error) {
	blob, err := s.codec.EncodeBinary(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqliteSearchNearest, blob, string(attr), k)
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

func (s *SQLiteStore) GetVector(ctx context.Context, entityID int64, attr person.Attribute) (VectorRecord, error) {
	var (
		model string
		blob  []byte
	)
	err := s.db.QueryRowContext(ctx, sqliteGetVector, entityID, string(attr)).Scan(&model, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return VectorRecord{}, ErrVectorNotFound
	}
	if err != nil {
		return VectorRecord{}, wrapErr("get vector", err)
	}
	vec, err := s.codec.DecodeBinary(blob)
	if err != nil {
		return VectorRecord{}, err
	}
	return VectorRecord{EntityID: entityID, Attribute: attr, Model: model, Vector: vec}, nil
}

func (s *SQLiteStore) CountVectors(ctx context.Context, attr person.Attribute) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqliteCountVectors, string(attr)).Scan(&n); err != nil {
		return 0, wrapErr("count vectors", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteVectors(ctx context.Context, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}
	idList, err := json.Marshal(entityIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteDeleteVector, string(idList))
	return wrapErr("delete vectors", err)
}

// InsertEntities creates or replaces people in the local person table.
func (s *SQLiteStore) InsertEntities(ctx context.Context, people []person.Entity) error {
	if len(people) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin insert entities", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertEntity)
	if err != nil {
		return wrapErr("prepare insert entities", err)
	}
	defer stmt.Close()

	for _, p := range people {
		if _, err := stmt.ExecContext(ctx, p.ID, nullable(p.FirstName), nullable(p.MiddleName), nullable(p.LastName),
			nullable(p.Suffix), nullable(p.PreferredName), nullable(p.FullName), nullable(p.BirthDate)); err != nil {
			return wrapErr("insert entities", fmt.Errorf("person %d: %w", p.ID, err))
		}
	}
	return wrapErr("commit insert entities", tx.Commit())
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
