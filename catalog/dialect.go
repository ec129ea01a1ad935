package catalog

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Dialect holds the statement fragments that differ between database engines
type Dialect interface {
	Name() string                       // Name of the dialect, as used in the configuration
	PrimaryKey(KeyType) (string, error) // Column definition of the generated primary key
	CheckTable(table string) string     // Yields one row with the table name if it exists
	TableSize(table string) string      // Yields the table size (with indexes) in bytes
}

var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "", Postgres.Name():
		return Postgres, nil
	case SQLite.Name():
		return SQLite, nil
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown dialect %q", name)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) PrimaryKey(keyType KeyType) (string, error) {
	switch keyType {
	case BigInt:
		return "BIGSERIAL PRIMARY KEY", nil
	case UUIDv4:
		return "UUID PRIMARY KEY DEFAULT gen_random_uuid()", nil
	case UUIDv7:
		// uuidv7() is built in since PostgreSQL 18
		return "UUID PRIMARY KEY DEFAULT uuidv7()", nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown key type %v", keyType)
	}
}

func (postgresDialect) CheckTable(table string) string {
	return fmt.Sprintf("SELECT to_regclass('public.%s');", table)
}

func (postgresDialect) TableSize(table string) string {
	return fmt.Sprintf("SELECT pg_total_relation_size('%s');", table)
}

// The uuid defaults call gen_random_uuid() and uuidv7(), which are registered on each
// connection by the sqlite3 driver of dbutils.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) PrimaryKey(keyType KeyType) (string, error) {
	switch keyType {
	case BigInt:
		return "INTEGER PRIMARY KEY AUTOINCREMENT", nil
	case UUIDv4:
		return "TEXT PRIMARY KEY DEFAULT (gen_random_uuid())", nil
	case UUIDv7:
		return "TEXT PRIMARY KEY DEFAULT (uuidv7())", nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown key type %v", keyType)
	}
}

func (sqliteDialect) CheckTable(table string) string {
	return fmt.Sprintf("SELECT name FROM sqlite_master WHERE type = 'table' AND name = '%s';", table)
}

// sqlite has no per-table size without the dbstat extension, so the whole file is measured
func (sqliteDialect) TableSize(string) string {
	return "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size();"
}
