package dbutils

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	zlog "github.com/rs/zerolog/log"
)

var ErrConnection = errors.New("connection error")

// Conn is the part of *sql.Conn used by the benchmark. A Conn is owned by a single goroutine.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	Close() error
}

// Provider hands out dedicated database sessions. Closing the Conn releases it.
type Provider interface {
	Acquire(ctx context.Context) (Conn, error)
}

type ProviderFunc func(ctx context.Context) (Conn, error)

func (f ProviderFunc) Acquire(ctx context.Context) (Conn, error) {
	return f(ctx)
}

type Options struct {
	Driver   string // postgres (lib/pq), pgx or sqlite3
	DSN      string
	MaxConns int
}

// DB is a Provider backed by a database/sql pool
type DB struct {
	db     *sql.DB
	driver string
}

// Returns the database/sql driver registered for a configured driver name
func DriverName(driver string) (string, error) {
	switch driver {
	case "", "postgres":
		return "postgres", nil
	case "pgx":
		return "pgx", nil
	case "sqlite3", "sqlite":
		return sqliteDriverName, nil
	default:
		return "", errors.Newf("unknown driver %q", driver)
	}
}

func IsSQLite(driver string) bool {
	name, err := DriverName(driver)
	return err == nil && name == sqliteDriverName
}

// Opens and pings a connection pool
func Open(ctx context.Context, opts Options) (*DB, error) {
	name, err := DriverName(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, opts.DSN)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", name), ErrConnection)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		// keep every worker connection idle-able, otherwise released connections get
		// closed and reopened between runs.
		db.SetMaxIdleConns(opts.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "ping %s", name), ErrConnection)
	}

	zlog.Debug().Str("driver", name).Int("maxConns", opts.MaxConns).Msg("Connected")
	return &DB{db: db, driver: name}, nil
}

func (d *DB) Acquire(ctx context.Context) (Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "acquire connection"), ErrConnection)
	}
	return conn, nil
}

func (d *DB) SQL() *sql.DB {
	return d.db
}

func (d *DB) Driver() string {
	return d.driver
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Returns the server version string
func (d *DB) Version(ctx context.Context) (string, error) {
	query := "SELECT version();"
	if d.driver == sqliteDriverName {
		query = "SELECT sqlite_version();"
	}
	var version string
	if err := d.db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", errors.Wrap(err, "query version")
	}
	return version, nil
}

// EnsureDatabase creates the database 'name' if it does not exist yet. adminDSN must point to
// another database of the same server (usually "postgres"). Returns true if it was created.
func EnsureDatabase(ctx context.Context, driver string, adminDSN string, name string) (bool, error) {
	if IsSQLite(driver) {
		return false, nil
	}
	admin, err := Open(ctx, Options{Driver: driver, DSN: adminDSN, MaxConns: 1})
	if err != nil {
		return false, err
	}
	defer admin.Close()

	var one int
	err = admin.db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1;", name).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrapf(err, "look up database %q", name)
	}

	// CREATE DATABASE does not accept parameters
	if _, err := admin.db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return false, errors.Wrapf(err, "create database %q", name)
	}
	zlog.Info().Str("database", name).Msg("Database created")
	return true, nil
}

// Runs a check statement; the table exists if it yields a non-null row
func TableExists(ctx context.Context, conn Conn, checkStmt string) (bool, error) {
	var name sql.NullString
	err := conn.QueryRowContext(ctx, checkStmt).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check table")
	}
	return name.Valid, nil
}

// Returns the size, in bytes, yielded by a size statement
func RelationSize(ctx context.Context, conn Conn, sizeStmt string) (int64, error) {
	var s int64
	if err := conn.QueryRowContext(ctx, sizeStmt).Scan(&s); err != nil {
		return 0, errors.Wrap(err, "relation size")
	}
	return s, nil
}

// Acquires a session, runs stmt on it and releases it
func Exec(ctx context.Context, p Provider, stmt string) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, stmt)
	return errors.WithStack(err)
}
