// Package badgerstore keeps block embeddings in an embedded Badger
// key-value store, one msgpack record per point.
package badgerstore

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/vector"
)

// record is the stored form of a point
type record struct {
	Vector  []float32              `msgpack:"v"`
	Payload map[string]interface{} `msgpack:"p"`
}

// Store implements vector.Sink and vector.Searcher
type Store struct {
	db     *badger.DB
	prefix []byte
	dims   int
	logger *zap.SugaredLogger
}

// zapAdapter routes badger's logging through zap
type zapAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, args ...interface{})   { a.logger.Errorf(msg, args...) }
func (a *zapAdapter) Warningf(msg string, args ...interface{}) { a.logger.Warnf(msg, args...) }
func (a *zapAdapter) Infof(msg string, args ...interface{})    { a.logger.Debugf(msg, args...) }
func (a *zapAdapter) Debugf(msg string, args ...interface{})   { a.logger.Debugf(msg, args...) }

// Open opens (or creates) a store at dir. An empty dir opens an in-memory
// store. dims <= 0 disables the dimension check.
func Open(dir, collection string, dims int, logger *zap.SugaredLogger) (*Store, error) {
	if collection == "" {
		return nil, errors.NewConfigurationError("vector collection name is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapStorage(err, fmt.Sprintf("failed to create vector store directory %s", dir))
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &zapAdapter{logger: logger.Named("badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapStorage(err, "failed to open vector store")
	}
	return &Store{db: db, prefix: []byte(collection + ":"), dims: dims, logger: logger}, nil
}

func (s *Store) key(id string) []byte {
	return append(append([]byte{}, s.prefix...), id...)
}

// Upsert writes all points in one transaction
func (s *Store) Upsert(ctx context.Context, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, p := range points {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.dims > 0 && len(p.Vector) != s.dims {
				return errors.MarkStorage(errors.Newf("point %s has %d dimensions, expected %d", p.ID, len(p.Vector), s.dims))
			}
			data, err := msgpack.Marshal(&record{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return errors.WrapProcessing(err, fmt.Sprintf("failed to encode point %s", p.ID))
			}
			if err := txn.Set(s.key(p.ID), data); err != nil {
				return errors.WrapStorage(err, fmt.Sprintf("failed to write point %s", p.ID))
			}
		}
		return nil
	})
	if err != nil {
		return errors.MarkStorage(err)
	}
	s.logger.Debugw("Upserted vectors", "count", len(points))
	return nil
}

// Get returns one point
func (s *Store) Get(id string) (*vector.Point, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.NewNotFoundError("vector point %s", id)
	}
	if err != nil {
		return nil, errors.WrapStorage(err, fmt.Sprintf("failed to read point %s", id))
	}
	return &vector.Point{ID: id, Vector: rec.Vector, Payload: rec.Payload}, nil
}

// Search scans the collection and returns the k nearest points by L2 distance
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]vector.Match, error) {
	if k <= 0 {
		k = 10
	}
	var matches []vector.Match
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec record
			if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &rec) }); err != nil {
				return errors.Wrapf(err, "corrupt point %s", item.Key())
			}
			if len(rec.Vector) != len(query) {
				continue
			}
			matches = append(matches, vector.Match{
				ID:       string(item.Key()[len(s.prefix):]),
				Distance: l2(query, rec.Vector),
				Payload:  rec.Payload,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapStorage(err, "vector search failed")
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func l2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
