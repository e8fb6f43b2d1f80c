package manager

import (
	"context"
	"database/sql"
	"io"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/teranos/bfhtw/am"
	"github.com/teranos/bfhtw/crud"
	"github.com/teranos/bfhtw/db"
	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/inference"
	"github.com/teranos/bfhtw/inference/mock"
	"github.com/teranos/bfhtw/inference/openai"
	"github.com/teranos/bfhtw/models"
	"github.com/teranos/bfhtw/validate"
	"github.com/teranos/bfhtw/vector"
	"github.com/teranos/bfhtw/vector/badgerstore"
	"github.com/teranos/bfhtw/vector/sqlitevec"
)

// DefaultWorkers is the inference fan-out when none is configured
const DefaultWorkers = 4

// DefaultBadgerPath is where the badger vector backend lives when no path is set
const DefaultBadgerPath = "bfhtw-vectors"

// Deps are the process-wide resources shared by every pipeline run. They
// are built once at startup and are read-only afterwards.
type Deps struct {
	DB         *sql.DB
	Store      *crud.Store
	Tables     *models.Tables
	Inference  inference.Provider // nil when inference is disabled
	Vectors    vector.Sink
	Vocabulary *validate.Vocabulary
	Pool       *ants.Pool // block-level inference fan-out; nil runs calls inline
	Logger     *zap.SugaredLogger
	Now        func() time.Time

	closers []io.Closer
}

// OpenDeps opens the database, record tables, inference provider and
// vector sink described by cfg. On error everything opened so far is closed.
func OpenDeps(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (_ *Deps, err error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	deps := &Deps{Logger: log, Now: time.Now}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	conn, err := db.OpenWithMigrations(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}
	deps.DB = conn
	deps.closers = append(deps.closers, conn)

	deps.Store = crud.NewStore(conn, crud.WithLogger(log.Named("crud")))
	if deps.Tables, err = models.OpenTables(ctx, deps.Store); err != nil {
		return nil, err
	}

	if deps.Vocabulary, err = validate.LoadVocabulary(cfg.Validation.VocabularyFile); err != nil {
		return nil, err
	}

	if deps.Inference, err = openInference(cfg, log); err != nil {
		return nil, err
	}
	if deps.Inference != nil {
		deps.closers = append(deps.closers, deps.Inference)

		workers := cfg.Inference.Workers
		if workers <= 0 {
			workers = DefaultWorkers
		}
		if deps.Pool, err = ants.NewPool(workers); err != nil {
			return nil, errors.Wrap(err, "create inference worker pool")
		}
		deps.closers = append(deps.closers, poolCloser{deps.Pool})
	}

	if deps.Vectors, err = openVectors(ctx, cfg, conn, log); err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, deps.Vectors)

	return deps, nil
}

func openInference(cfg *am.Config, log *zap.SugaredLogger) (inference.Provider, error) {
	if !cfg.Inference.Enabled {
		return nil, nil
	}
	switch cfg.Inference.Provider {
	case "mock":
		return mock.NewProvider(cfg.VectorSink.Dimensions), nil
	case "openai", "":
		return openai.NewProvider(cfg.Inference, log.Named("inference"))
	}
	return nil, errors.NewConfigurationError("inference.provider %q unknown", cfg.Inference.Provider)
}

func openVectors(ctx context.Context, cfg *am.Config, conn *sql.DB, log *zap.SugaredLogger) (vector.Sink, error) {
	vc := cfg.VectorSink
	collection := vc.Collection
	if collection == "" {
		collection = "blocks"
	}

	switch vc.Backend {
	case "", "none":
		return vector.Discard{}, nil

	case "sqlite-vec":
		target := conn
		if vc.Path != "" && vc.Path != cfg.Database.Path {
			other, err := db.Open(vc.Path, log)
			if err != nil {
				return nil, err
			}
			sink, err := sqlitevec.Open(ctx, other, collection, vc.Dimensions, log.Named("vectors"))
			if err != nil {
				other.Close()
				return nil, err
			}
			return &ownedSink{Sink: sink, db: other}, nil
		}
		return sqlitevec.Open(ctx, target, collection, vc.Dimensions, log.Named("vectors"))

	case "badger":
		path := vc.Path
		if path == "" {
			path = DefaultBadgerPath
		}
		return badgerstore.Open(path, collection, vc.Dimensions, log.Named("vectors"))
	}
	return nil, errors.NewConfigurationError("vector_sink.backend %q unknown", vc.Backend)
}

// ownedSink closes the separate database a sqlite-vec sink was opened on
type ownedSink struct {
	*sqlitevec.Sink
	db *sql.DB
}

func (s *ownedSink) Close() error {
	return errors.CombineErrors(s.Sink.Close(), s.db.Close())
}

type poolCloser struct{ pool *ants.Pool }

func (c poolCloser) Close() error {
	c.pool.Release()
	return nil
}

// Close releases everything OpenDeps opened, in reverse order
func (d *Deps) Close() error {
	var err error
	for i := len(d.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, d.closers[i].Close())
	}
	d.closers = nil
	return err
}

// Named returns the shared logger scoped to a component
func (d *Deps) Named(name string) *zap.SugaredLogger {
	if d.Logger == nil {
		return zap.NewNop().Sugar().Named(name)
	}
	return d.Logger.Named(name)
}
