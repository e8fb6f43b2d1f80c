// Package sqlitevec stores block embeddings in a sqlite-vec vec0 virtual
// table next to a plain table holding their payloads.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/vector"
)

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink implements vector.Sink and vector.Searcher
type Sink struct {
	db         *sql.DB
	collection string
	dims       int
	logger     *zap.SugaredLogger
}

// Open creates the collection tables on db if missing. db must have the
// sqlite-vec extension registered (db.Open does).
func Open(ctx context.Context, db *sql.DB, collection string, dims int, logger *zap.SugaredLogger) (*Sink, error) {
	if !collectionName.MatchString(collection) {
		return nil, errors.NewConfigurationError("invalid vector collection name %q", collection)
	}
	if dims <= 0 {
		return nil, errors.NewConfigurationError("vector dimensions must be positive, got %d", dims)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Sink{db: db, collection: collection, dims: dims, logger: logger}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_points (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL DEFAULT '{}'
		)`, collection),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s_vec USING vec0(
			point_id TEXT PRIMARY KEY,
			embedding float[%d]
		)`, collection, dims),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.WrapStorage(err, fmt.Sprintf("failed to create vector collection %s", collection))
		}
	}
	return s, nil
}

// Upsert writes all points in one transaction
func (s *Sink) Upsert(ctx context.Context, points []vector.Point) (err error) {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStorage(err, "failed to begin vector upsert")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Errorw("Failed to rollback vector upsert", "error", rbErr)
			}
		}
	}()

	pointStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s_points (id, payload) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, s.collection))
	if err != nil {
		return errors.WrapStorage(err, "failed to prepare point statement")
	}
	defer pointStmt.Close()

	// vec0 tables have no UPSERT
	delStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s_vec WHERE point_id = ?`, s.collection))
	if err != nil {
		return errors.WrapStorage(err, "failed to prepare vector delete statement")
	}
	defer delStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s_vec (point_id, embedding) VALUES (?, ?)`, s.collection))
	if err != nil {
		return errors.WrapStorage(err, "failed to prepare vector insert statement")
	}
	defer vecStmt.Close()

	for _, p := range points {
		if len(p.Vector) != s.dims {
			return errors.MarkStorage(errors.Newf("point %s has %d dimensions, collection %s expects %d",
				p.ID, len(p.Vector), s.collection, s.dims))
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return errors.WrapProcessing(err, fmt.Sprintf("failed to encode payload for point %s", p.ID))
		}
		blob, err := sqlite_vec.SerializeFloat32(p.Vector)
		if err != nil {
			return errors.WrapProcessing(err, fmt.Sprintf("failed to serialize vector for point %s", p.ID))
		}

		if _, err = pointStmt.ExecContext(ctx, p.ID, string(payload)); err != nil {
			return errors.WrapStorage(err, fmt.Sprintf("failed to upsert point %s", p.ID))
		}
		if _, err = delStmt.ExecContext(ctx, p.ID); err != nil {
			return errors.WrapStorage(err, fmt.Sprintf("failed to clear vector %s", p.ID))
		}
		if _, err = vecStmt.ExecContext(ctx, p.ID, blob); err != nil {
			return errors.WrapStorage(err, fmt.Sprintf("failed to insert vector %s", p.ID))
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapStorage(err, "failed to commit vector upsert")
	}
	s.logger.Debugw("Upserted vectors", "collection", s.collection, "count", len(points))
	return nil
}

// Search returns the k nearest points to query
func (s *Sink) Search(ctx context.Context, query []float32, k int) ([]vector.Match, error) {
	if k <= 0 {
		k = 10
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, errors.WrapProcessing(err, "failed to serialize query vector")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT v.point_id, v.distance, p.payload
		FROM %[1]s_vec v
		JOIN %[1]s_points p ON p.id = v.point_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, s.collection), blob, k)
	if err != nil {
		return nil, errors.WrapStorage(err, fmt.Sprintf("vector search failed (k=%d)", k))
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var (
			m       vector.Match
			payload string
		)
		if err := rows.Scan(&m.ID, &m.Distance, &payload); err != nil {
			return nil, errors.WrapStorage(err, "failed to scan vector match")
		}
		if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
			return nil, errors.WrapProcessing(err, fmt.Sprintf("corrupt payload for point %s", m.ID))
		}
		matches = append(matches, m)
	}
	return matches, errors.WrapStorage(rows.Err(), "failed to iterate vector matches")
}

// Close is a no-op; the database belongs to the caller
func (s *Sink) Close() error { return nil }
