package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/awjans/primarykey/catalog"
	dbutils "github.com/awjans/primarykey/dbUtils"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var cat = catalog.New(catalog.SQLite)

func openDB(t *testing.T) *dbutils.DB {
	t.Helper()
	db, err := dbutils.Open(context.Background(), dbutils.Options{
		Driver:   "sqlite3",
		DSN:      dbutils.SQLiteDSN(filepath.Join(t.TempDir(), "worker.db")),
		MaxConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTable(t *testing.T, db *dbutils.DB, keyType catalog.KeyType) {
	t.Helper()
	stmt, err := cat.CreateStatement(keyType)
	require.NoError(t, err)
	require.NoError(t, dbutils.Exec(context.Background(), db, stmt))
}

func countRows(t *testing.T, db *dbutils.DB, keyType catalog.KeyType, where string) int {
	t.Helper()
	table, err := catalog.TableName(keyType)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.SQL().QueryRow("SELECT COUNT(*) FROM "+table+" "+where).Scan(&n))
	return n
}

type countingObserver struct {
	mu      sync.Mutex
	records []Record
}

func (o *countingObserver) ObserveBatch(_ catalog.KeyType, r Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, r)
}

func TestRunLifecycle(t *testing.T) {
	for _, keyType := range catalog.KeyTypes {
		t.Run(keyType.String(), func(t *testing.T) {
			db := openDB(t)
			createTable(t, db, keyType)

			w := New(3, db, cat, Options{KeyType: keyType, Mode: Lifecycle, BatchSize: 5, Operations: 20, Seed: 1})
			require.Equal(t, Idle, w.State())
			require.NoError(t, w.Run(context.Background()))
			require.Equal(t, Done, w.State())

			records, err := w.Results()
			require.NoError(t, err)
			require.Len(t, records, 16)
			for i, r := range records {
				require.Equal(t, 3, r.WorkerID)
				require.Equal(t, 5, r.BatchSize)
				require.Equal(t, catalog.Operations[i/4], r.Operation)
				require.Positive(t, r.Duration)
			}

			// every inserted row was deleted exactly once
			require.Equal(t, 0, countRows(t, db, keyType, ""))
		})
	}
}

func TestRunUnevenBatches(t *testing.T) {
	db := openDB(t)
	createTable(t, db, catalog.BigInt)

	w := New(0, db, cat, Options{KeyType: catalog.BigInt, Mode: Lifecycle, BatchSize: 5, Operations: 7})
	require.NoError(t, w.Run(context.Background()))

	records, err := w.Results()
	require.NoError(t, err)
	require.Len(t, records, 8)
	require.Equal(t, 0, countRows(t, db, catalog.BigInt, ""))
}

func TestRunSingle(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.UUIDv4)

		w := New(0, db, cat, Options{KeyType: catalog.UUIDv4, Mode: Single, Operation: catalog.Insert, BatchSize: 10, Operations: 30})
		require.NoError(t, w.Run(context.Background()))
		records, err := w.Results()
		require.NoError(t, err)
		require.Len(t, records, 3)
		require.Equal(t, 30, countRows(t, db, catalog.UUIDv4, ""))
	})

	t.Run("select seeds without measuring", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.UUIDv7)

		w := New(0, db, cat, Options{KeyType: catalog.UUIDv7, Mode: Single, Operation: catalog.Select, BatchSize: 5, Operations: 20})
		require.NoError(t, w.Run(context.Background()))
		records, err := w.Results()
		require.NoError(t, err)
		require.Len(t, records, 4)
		for _, r := range records {
			require.Equal(t, catalog.Select, r.Operation)
		}
		require.Equal(t, 20, countRows(t, db, catalog.UUIDv7, ""))
	})

	t.Run("update", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.BigInt)

		w := New(0, db, cat, Options{KeyType: catalog.BigInt, Mode: Single, Operation: catalog.Update, BatchSize: 4, Operations: 16, Seed: 9})
		require.NoError(t, w.Run(context.Background()))
		require.Positive(t, countRows(t, db, catalog.BigInt, "WHERE data LIKE 'B%'"))
	})

	t.Run("delete", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.UUIDv4)

		w := New(0, db, cat, Options{KeyType: catalog.UUIDv4, Mode: Single, Operation: catalog.Delete, BatchSize: 4, Operations: 16})
		require.NoError(t, w.Run(context.Background()))
		records, err := w.Results()
		require.NoError(t, err)
		require.Len(t, records, 4)
		require.Equal(t, 0, countRows(t, db, catalog.UUIDv4, ""))
	})
}

func TestObserverSeesEveryBatch(t *testing.T) {
	db := openDB(t)
	createTable(t, db, catalog.UUIDv7)

	observer := &countingObserver{}
	w := New(0, db, cat, Options{KeyType: catalog.UUIDv7, Mode: Lifecycle, BatchSize: 2, Operations: 6, Observer: observer})
	require.NoError(t, w.Run(context.Background()))

	records, err := w.Results()
	require.NoError(t, err)
	require.Equal(t, records, observer.records)
}

func TestResultsBeforeRun(t *testing.T) {
	w := New(0, nil, cat, Options{KeyType: catalog.BigInt, BatchSize: 1, Operations: 1})
	_, err := w.Results()
	require.True(t, errors.Is(err, ErrNotDone))
	require.Nil(t, w.Partial())
}

func TestRunTwice(t *testing.T) {
	db := openDB(t)
	createTable(t, db, catalog.BigInt)

	w := New(0, db, cat, Options{KeyType: catalog.BigInt, BatchSize: 1, Operations: 2})
	require.NoError(t, w.Run(context.Background()))
	require.True(t, errors.Is(w.Run(context.Background()), ErrPrecondition))
}

func TestRunFailures(t *testing.T) {
	t.Run("missing table", func(t *testing.T) {
		db := openDB(t)

		w := New(1, db, cat, Options{KeyType: catalog.UUIDv4, BatchSize: 5, Operations: 10})
		err := w.Run(context.Background())
		require.True(t, errors.Is(err, ErrDataAccess))
		require.Equal(t, Failed, w.State())
		require.Equal(t, err, w.Err())
		require.Empty(t, w.Partial())

		_, err = w.Results()
		require.True(t, errors.Is(err, ErrNotDone))
	})

	t.Run("acquire", func(t *testing.T) {
		refused := errors.New("refused")
		p := dbutils.ProviderFunc(func(context.Context) (dbutils.Conn, error) {
			return nil, refused
		})

		w := New(0, p, cat, Options{KeyType: catalog.BigInt, BatchSize: 5, Operations: 10})
		err := w.Run(context.Background())
		require.True(t, errors.Is(err, dbutils.ErrConnection))
		require.True(t, errors.Is(err, refused))
	})

	t.Run("invalid batch size", func(t *testing.T) {
		w := New(0, nil, cat, Options{KeyType: catalog.BigInt, BatchSize: 0, Operations: 10})
		require.True(t, errors.Is(w.Run(context.Background()), catalog.ErrInvalidArgument))
	})

	t.Run("table dropped mid run", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.BigInt)

		observer := &dropAfterInsert{db: db}
		w := New(0, db, cat, Options{KeyType: catalog.BigInt, Mode: Lifecycle, BatchSize: 5, Operations: 10, Observer: observer})
		err := w.Run(context.Background())
		require.True(t, errors.Is(err, ErrDataAccess))

		// the insert batches completed before the failure
		partial := w.Partial()
		require.Len(t, partial, 2)
		for _, r := range partial {
			require.Equal(t, catalog.Insert, r.Operation)
		}
	})
}

func TestRunIntegrityFailures(t *testing.T) {
	t.Run("insert returns fewer keys", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.BigInt)
		table, err := catalog.TableName(catalog.BigInt)
		require.NoError(t, err)
		// rows past the second one are silently skipped
		require.NoError(t, dbutils.Exec(context.Background(), db, "CREATE TRIGGER cap_rows BEFORE INSERT ON "+table+
			" WHEN (SELECT COUNT(*) FROM "+table+") >= 2 BEGIN SELECT RAISE(IGNORE); END"))

		w := New(0, db, cat, Options{KeyType: catalog.BigInt, Mode: Lifecycle, BatchSize: 2, Operations: 4})
		err = w.Run(context.Background())
		require.True(t, errors.Is(err, ErrDataIntegrity))
		require.Equal(t, Failed, w.State())
		require.Len(t, w.Partial(), 1)
		require.Equal(t, 2, w.ledger.Len())
		require.Equal(t, 2, countRows(t, db, catalog.BigInt, ""))
	})

	t.Run("update misses rows", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.UUIDv4)

		observer := &clearAfter{db: db, op: catalog.Update}
		w := New(0, db, cat, Options{KeyType: catalog.UUIDv4, Mode: Single, Operation: catalog.Update, BatchSize: 2, Operations: 4, Observer: observer})
		err := w.Run(context.Background())
		require.True(t, errors.Is(err, ErrDataIntegrity))
		require.Equal(t, Failed, w.State())
		require.Len(t, w.Partial(), 1)
	})

	t.Run("delete misses rows", func(t *testing.T) {
		db := openDB(t)
		createTable(t, db, catalog.UUIDv7)

		observer := &clearAfter{db: db, op: catalog.Update}
		w := New(0, db, cat, Options{KeyType: catalog.UUIDv7, Mode: Lifecycle, BatchSize: 2, Operations: 2, Observer: observer})
		err := w.Run(context.Background())
		require.True(t, errors.Is(err, ErrDataIntegrity))

		partial := w.Partial()
		require.Len(t, partial, 3)
		require.Equal(t, catalog.Update, partial[2].Operation)
	})
}

// Empties the table after the first measured batch of op
type clearAfter struct {
	db   *dbutils.DB
	op   catalog.Operation
	done bool
}

func (o *clearAfter) ObserveBatch(keyType catalog.KeyType, r Record) {
	if r.Operation != o.op || o.done {
		return
	}
	o.done = true
	table, _ := catalog.TableName(keyType)
	o.db.SQL().Exec("DELETE FROM " + table)
}

// Drops the table once the last insert batch is measured, so the select phase fails to
// prepare.
type dropAfterInsert struct {
	db      *dbutils.DB
	inserts int
}

func (o *dropAfterInsert) ObserveBatch(keyType catalog.KeyType, r Record) {
	if r.Operation != catalog.Insert {
		return
	}
	o.inserts++
	if o.inserts == 2 {
		stmt, _ := cat.DropStatement(keyType)
		o.db.SQL().Exec(stmt)
	}
}
