package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/awjans/primarykey/catalog"
	dbutils "github.com/awjans/primarykey/dbUtils"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrDataAccess    = errors.New("data access error")
	ErrDataIntegrity = errors.New("data integrity error")
	ErrPrecondition  = errors.New("precondition failed")
	ErrNotDone       = errors.New("worker not done")
)

// Mode selects the phases a worker runs
type Mode int

const (
	Lifecycle Mode = iota // insert, select, update and delete, in that order
	Single                // only Options.Operation
)

func (m Mode) String() string {
	switch m {
	case Lifecycle:
		return "lifecycle"
	case Single:
		return "single"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

type State int32

const (
	Idle State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Record is the measurement of a single batch
type Record struct {
	WorkerID  int
	Operation catalog.Operation
	BatchSize int
	Duration  time.Duration
}

// Observer receives every measured batch as soon as it completes. It is called from the
// worker goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	ObserveBatch(keyType catalog.KeyType, record Record)
}

type Options struct {
	KeyType      catalog.KeyType
	Mode         Mode
	Operation    catalog.Operation // used in Single mode
	BatchSize    int
	Operations   int           // rows handled by each phase
	BatchTimeout time.Duration // 0 disables the per-batch deadline
	Seed         int64
	Observer     Observer
}

type phase struct {
	operation catalog.Operation
	measured  bool
}

type batchLogEntry struct {
	op       catalog.Operation
	batch    int
	duration time.Duration
	t        time.Time
}

type Worker struct {
	id       int
	provider dbutils.Provider
	catalog  *catalog.Catalog
	opts     Options
	ledger   *Ledger
	records  []Record

	mu    sync.Mutex
	state State
	err   error

	batchesToLog chan *batchLogEntry
	batchLogWg   *sync.WaitGroup
}

func New(id int, provider dbutils.Provider, c *catalog.Catalog, opts Options) *Worker {
	w := new(Worker)
	w.id = id
	w.provider = provider
	w.catalog = c
	w.opts = opts
	return w
}

func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) log(msg string) {
	zlog.Info().Int("worker", w.id).Msg(msg)
}

func (w *Worker) logBatchesWorker() {
	for entry := range w.batchesToLog {
		zlog.Debug().Int("worker", w.id).Str("operation", entry.op.String()).Int("batch", entry.batch).
			Float64("rt", entry.duration.Seconds()).Time("real_time", entry.t).Msg("completed")
	}
	w.batchLogWg.Done()
}

// Returns the phases to run, in order
func (w *Worker) phases() []phase {
	if w.opts.Mode == Lifecycle {
		phases := make([]phase, len(catalog.Operations))
		for i, op := range catalog.Operations {
			phases[i] = phase{op, true}
		}
		return phases
	}
	if w.opts.Operation == catalog.Insert {
		return []phase{{catalog.Insert, true}}
	}
	// the measured phase needs keys to work on
	return []phase{{catalog.Insert, false}, {w.opts.Operation, true}}
}

// Number of batches in one phase. The last batch of a phase is a full one even if it
// goes past Operations.
func (w *Worker) batchesPerPhase() int {
	return (w.opts.Operations + w.opts.BatchSize - 1) / w.opts.BatchSize
}

func (w *Worker) validate() error {
	if w.opts.BatchSize <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "batch size must be positive, got %d", w.opts.BatchSize)
	}
	if w.opts.Operations <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "operations must be positive, got %d", w.opts.Operations)
	}
	switch w.opts.Mode {
	case Lifecycle, Single:
	default:
		return errors.Wrapf(catalog.ErrInvalidArgument, "unknown mode %v", w.opts.Mode)
	}
	return nil
}

// Run executes every phase on one connection, acquired for the whole run. It returns the
// first error met; records measured before it remain available through Partial.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.state != Idle {
		w.mu.Unlock()
		return errors.Wrapf(ErrPrecondition, "worker %d already started", w.id)
	}
	w.state = Running
	w.mu.Unlock()

	err := w.validate()
	if err == nil {
		phases := w.phases()
		measured := 0
		for _, p := range phases {
			if p.measured {
				measured++
			}
		}
		w.records = make([]Record, 0, measured*w.batchesPerPhase())
		w.ledger = NewLedger(w.batchesPerPhase()*w.opts.BatchSize, w.opts.Seed+int64(w.id))

		w.batchesToLog = make(chan *batchLogEntry, 1024)
		w.batchLogWg = &sync.WaitGroup{}
		w.batchLogWg.Add(1)
		go w.logBatchesWorker()

		err = w.run(ctx, phases)

		close(w.batchesToLog)
		w.batchLogWg.Wait()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = Failed
		w.err = err
		zlog.Error().Err(err).Int("worker", w.id).Msg("Failed")
		return err
	}
	w.state = Done
	w.log("Done")
	return nil
}

func (w *Worker) run(ctx context.Context, phases []phase) error {
	conn, err := w.provider.Acquire(ctx)
	if err != nil {
		return errors.Mark(err, dbutils.ErrConnection)
	}
	defer conn.Close()

	for _, p := range phases {
		w.log("Running " + p.operation.String())
		if err := w.runPhase(ctx, conn, p); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) runPhase(ctx context.Context, conn dbutils.Conn, p phase) error {
	query, err := w.catalog.OperationStatement(w.opts.KeyType, p.operation, w.opts.BatchSize)
	if err != nil {
		return err
	}
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return dataAccess(err, "prepare %s", p.operation)
	}
	defer stmt.Close()

	var filler string
	if p.operation == catalog.Insert || p.operation == catalog.Update {
		if filler, err = catalog.CharData(w.opts.KeyType, p.operation); err != nil {
			return err
		}
	}

	batch := 0
	for done := 0; done < w.opts.Operations; done += w.opts.BatchSize {
		args, err := w.bind(p.operation, filler)
		if err != nil {
			return errors.Wrapf(err, "%s batch %d", p.operation, batch)
		}

		d, err := w.execBatch(ctx, stmt, p.operation, args)
		if err != nil {
			return errors.Wrapf(err, "%s batch %d", p.operation, batch)
		}

		if p.measured {
			record := Record{WorkerID: w.id, Operation: p.operation, BatchSize: w.opts.BatchSize, Duration: d}
			w.records = append(w.records, record)
			if w.opts.Observer != nil {
				w.opts.Observer.ObserveBatch(w.opts.KeyType, record)
			}
			w.batchesToLog <- &batchLogEntry{p.operation, batch, d, time.Now()}
		}
		batch++
	}
	return nil
}

// Builds the arguments of one batch
func (w *Worker) bind(op catalog.Operation, filler string) ([]any, error) {
	n := w.opts.BatchSize
	switch op {
	case catalog.Insert:
		args := make([]any, n)
		for i := range args {
			args[i] = filler
		}
		return args, nil
	case catalog.Select:
		return w.ledger.Sample(n)
	case catalog.Update:
		keys, err := w.ledger.Sample(n)
		if err != nil {
			return nil, err
		}
		return append([]any{filler}, keys...), nil
	case catalog.Delete:
		return w.ledger.Next(n)
	default:
		return nil, errors.Wrapf(catalog.ErrInvalidArgument, "unknown operation %v", op)
	}
}

// Executes one batch and returns its duration. The clock covers the statement and the
// consumption of its result.
func (w *Worker) execBatch(ctx context.Context, stmt *sql.Stmt, op catalog.Operation, args []any) (time.Duration, error) {
	if w.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.BatchTimeout)
		defer cancel()
	}

	var keys []any
	var affected int64
	start := time.Now()
	switch op {
	case catalog.Insert, catalog.Select:
		rows, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			return 0, dataAccess(err, "execute %s", op)
		}
		if op == catalog.Insert {
			keys, err = scanKeys(rows, w.opts.KeyType, w.opts.BatchSize)
		} else {
			_, err = drainRows(rows)
		}
		if err != nil {
			return 0, dataAccess(err, "read %s result", op)
		}
	default:
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, dataAccess(err, "execute %s", op)
		}
		if affected, err = res.RowsAffected(); err != nil {
			return 0, dataAccess(err, "read %s result", op)
		}
	}
	d := time.Since(start)

	switch op {
	case catalog.Insert:
		if len(keys) != w.opts.BatchSize {
			return 0, errors.Wrapf(ErrDataIntegrity, "insert returned %d keys, expected %d", len(keys), w.opts.BatchSize)
		}
		w.ledger.Append(keys...)
	case catalog.Update, catalog.Delete:
		// keys of a batch are distinct, so every one of them matches a row
		if affected != int64(w.opts.BatchSize) {
			return 0, errors.Wrapf(ErrDataIntegrity, "%s affected %d rows, expected %d", op, affected, w.opts.BatchSize)
		}
	}
	return d, nil
}

// Results returns the records of a worker that completed every phase
func (w *Worker) Results() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Done {
		return nil, errors.Wrapf(ErrNotDone, "worker %d is %s", w.id, w.state)
	}
	return w.records, nil
}

// Partial returns the records measured so far by a finished worker, failed or not
func (w *Worker) Partial() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Running {
		return nil
	}
	return w.records
}

// Err returns the error that stopped a failed worker
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func dataAccess(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrDataAccess)
}
