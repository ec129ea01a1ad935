package benchmark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/awjans/primarykey/catalog"
	dbutils "github.com/awjans/primarykey/dbUtils"
	"github.com/awjans/primarykey/results"
	"github.com/awjans/primarykey/worker"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Deadline of the table drop, which outlives the run's context
const teardownTimeout = 30 * time.Second

// Config of a single run
type Config struct {
	KeyType      catalog.KeyType
	Mode         worker.Mode
	Operation    catalog.Operation // used in Single mode
	Workers      int
	BatchSize    int
	Operations   int // total rows of each phase, split evenly among the workers
	BatchTimeout time.Duration
	Seed         int64
}

// Outcome of one worker. Records are partial if Err is set.
type Outcome struct {
	WorkerID int
	Records  []worker.Record
	Err      error
}

type WorkerFailure struct {
	WorkerID int
	Err      error
}

// RunError lists every worker that failed during a run
type RunError struct {
	Failures []WorkerFailure
}

func (e *RunError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("worker %d: %v", f.WorkerID, f.Err)
	}
	return fmt.Sprintf("%d worker(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Benchmark runs the workers of a key type against the table of that key type
type Benchmark struct {
	provider dbutils.Provider
	catalog  *catalog.Catalog
	observer worker.Observer
}

type Option func(*Benchmark)

// WithObserver makes every worker report its batches to o
func WithObserver(o worker.Observer) Option {
	return func(b *Benchmark) {
		b.observer = o
	}
}

func New(provider dbutils.Provider, c *catalog.Catalog, opts ...Option) *Benchmark {
	b := &Benchmark{provider: provider, catalog: c}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func validate(cfg Config) error {
	if cfg.Workers <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "workers must be positive, got %d", cfg.Workers)
	}
	if cfg.BatchSize <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Operations <= 0 || cfg.Operations%cfg.Workers != 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument,
			"operations (%d) must be a positive multiple of workers (%d)", cfg.Operations, cfg.Workers)
	}
	return nil
}

// Drops and recreates the table, then checks it is there
func (b *Benchmark) setup(ctx context.Context, keyType catalog.KeyType) error {
	create, err := b.catalog.CreateStatement(keyType)
	if err != nil {
		return err
	}
	check, err := b.catalog.CheckStatement(keyType)
	if err != nil {
		return err
	}

	conn, err := b.provider.Acquire(ctx)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "setup"), dbutils.ErrConnection)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, create); err != nil {
		return errors.Mark(errors.Wrapf(err, "create table for %s", keyType), worker.ErrDataAccess)
	}
	exists, err := dbutils.TableExists(ctx, conn, check)
	if err != nil {
		return errors.Mark(err, worker.ErrDataAccess)
	}
	if !exists {
		return errors.Mark(errors.Newf("table for %s missing after create", keyType), worker.ErrDataAccess)
	}
	return nil
}

// Logs the table size and drops the table. Failures are only logged. Cancelling ctx
// does not stop the drop.
func (b *Benchmark) teardown(ctx context.Context, keyType catalog.KeyType) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	size, err := b.catalog.SizeStatement(keyType)
	if err != nil {
		zlog.Error().Err(err).Msg("Size statement")
		return
	}
	drop, err := b.catalog.DropStatement(keyType)
	if err != nil {
		zlog.Error().Err(err).Msg("Drop statement")
		return
	}

	conn, err := b.provider.Acquire(ctx)
	if err != nil {
		zlog.Error().Err(err).Str("keyType", keyType.String()).Msg("Drop failed")
		return
	}
	defer conn.Close()

	if bytes, err := dbutils.RelationSize(ctx, conn, size); err != nil {
		zlog.Warn().Err(err).Str("keyType", keyType.String()).Msg("Table size unavailable")
	} else {
		zlog.Info().Str("keyType", keyType.String()).Int64("bytes", bytes).Msg("Table size")
	}

	if _, err := conn.ExecContext(ctx, drop); err != nil {
		zlog.Error().Err(err).Str("keyType", keyType.String()).Msg("Drop failed")
	}
}

// RunWorkers creates the table, runs cfg.Workers workers concurrently until every one of
// them has finished, and drops the table. Outcomes are ordered by worker id. The error is
// only set if the run could not start.
func (b *Benchmark) RunWorkers(ctx context.Context, cfg Config) ([]Outcome, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if err := b.setup(ctx, cfg.KeyType); err != nil {
		return nil, err
	}
	defer b.teardown(ctx, cfg.KeyType)

	opts := worker.Options{
		KeyType:      cfg.KeyType,
		Mode:         cfg.Mode,
		Operation:    cfg.Operation,
		BatchSize:    cfg.BatchSize,
		Operations:   cfg.Operations / cfg.Workers,
		BatchTimeout: cfg.BatchTimeout,
		Seed:         cfg.Seed,
		Observer:     b.observer,
	}
	workers := make([]*worker.Worker, cfg.Workers)
	for i := range workers {
		workers[i] = worker.New(i, b.provider, b.catalog, opts)
	}

	zlog.Info().Str("keyType", cfg.KeyType.String()).Int("workers", cfg.Workers).
		Int("batchSize", cfg.BatchSize).Int("operations", cfg.Operations).Msg("Run started")

	c := make(chan *worker.Worker)
	for _, w := range workers {
		go func(w *worker.Worker) {
			w.Run(ctx)
			c <- w
		}(w)
	}
	for range workers {
		<-c
	}

	outcomes := make([]Outcome, len(workers))
	for i, w := range workers {
		outcomes[i] = Outcome{WorkerID: w.ID(), Records: w.Partial(), Err: w.Err()}
	}

	zlog.Info().Str("keyType", cfg.KeyType.String()).Msg("Run ended")
	return outcomes, nil
}

// Run is RunWorkers with the records of every worker concatenated in worker id order. If
// any worker failed the error is a *RunError and the table still holds the records
// measured before each failure.
func (b *Benchmark) Run(ctx context.Context, cfg Config) (results.Table, error) {
	outcomes, err := b.RunWorkers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var table results.Table
	var failures []WorkerFailure
	for _, o := range outcomes {
		table = append(table, o.Records...)
		if o.Err != nil {
			failures = append(failures, WorkerFailure{WorkerID: o.WorkerID, Err: o.Err})
		}
	}
	if len(failures) > 0 {
		return table, &RunError{Failures: failures}
	}
	return table, nil
}
