package dbutils

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const sqliteDriverName = "sqlite3_pkbench"

// sqlite has no uuid generators, so the ones postgres provides are registered on every
// connection under the same names. The uuid tables use them as column defaults.
func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("gen_random_uuid", uuid.NewString, false); err != nil {
				return err
			}
			return conn.RegisterFunc("uuidv7", newUUIDv7, false)
		},
	})
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Returns a DSN for an on-disk sqlite database tuned for concurrent workers
func SQLiteDSN(path string) string {
	return "file:" + path + "?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL"
}
