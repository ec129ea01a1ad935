package catalog

import (
	"regexp"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

func TestParseKeyType(t *testing.T) {
	for _, k := range KeyTypes {
		parsed, err := ParseKeyType(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}

	parsed, err := ParseKeyType("UUIDv7")
	require.NoError(t, err)
	require.Equal(t, UUIDv7, parsed)

	_, err = ParseKeyType("serial")
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestParseOperation(t *testing.T) {
	for _, o := range Operations {
		parsed, err := ParseOperation(o.String())
		require.NoError(t, err)
		require.Equal(t, o, parsed)
	}

	_, err := ParseOperation("upsert")
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestTableName(t *testing.T) {
	names := map[KeyType]string{
		BigInt: "test_bigint",
		UUIDv4: "test_uuidv4",
		UUIDv7: "test_uuidv7",
	}
	for k, want := range names {
		got, err := TableName(k)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := TableName(KeyType(42))
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestCreateStatement(t *testing.T) {
	c := New(Postgres)

	stmt, err := c.CreateStatement(BigInt)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stmt, "DROP TABLE IF EXISTS test_bigint;"))
	require.Contains(t, stmt, "CREATE TABLE test_bigint")
	require.Contains(t, stmt, "id BIGSERIAL PRIMARY KEY")
	require.Contains(t, stmt, "data CHAR(244) NOT NULL")

	stmt, err = c.CreateStatement(UUIDv4)
	require.NoError(t, err)
	require.Contains(t, stmt, "id UUID PRIMARY KEY DEFAULT gen_random_uuid()")
	require.Contains(t, stmt, "data CHAR(236) NOT NULL")

	stmt, err = c.CreateStatement(UUIDv7)
	require.NoError(t, err)
	require.Contains(t, stmt, "id UUID PRIMARY KEY DEFAULT uuidv7()")

	stmt, err = New(SQLite).CreateStatement(UUIDv7)
	require.NoError(t, err)
	require.Contains(t, stmt, "id TEXT PRIMARY KEY DEFAULT (uuidv7())")

	_, err = c.CreateStatement(KeyType(-1))
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestCheckAndDropStatements(t *testing.T) {
	c := New(Postgres)

	check, err := c.CheckStatement(UUIDv4)
	require.NoError(t, err)
	require.Equal(t, "SELECT to_regclass('public.test_uuidv4');", check)

	drop, err := c.DropStatement(UUIDv4)
	require.NoError(t, err)
	require.Equal(t, "DROP TABLE IF EXISTS test_uuidv4;", drop)

	check, err = New(SQLite).CheckStatement(BigInt)
	require.NoError(t, err)
	require.Contains(t, check, "name = 'test_bigint'")
}

func TestOperationStatement(t *testing.T) {
	c := New(Postgres)

	t.Run("insert returns generated ids", func(t *testing.T) {
		stmt, err := c.OperationStatement(UUIDv7, Insert, 3)
		require.NoError(t, err)
		require.Equal(t, "INSERT INTO test_uuidv7 (data) VALUES ($1), ($2), ($3) RETURNING id;", stmt)
	})

	t.Run("select", func(t *testing.T) {
		stmt, err := c.OperationStatement(BigInt, Select, 2)
		require.NoError(t, err)
		require.Equal(t, "SELECT * FROM test_bigint WHERE id IN ($1, $2);", stmt)
	})

	t.Run("update has the payload first", func(t *testing.T) {
		stmt, err := c.OperationStatement(BigInt, Update, 3)
		require.NoError(t, err)
		require.Equal(t, "UPDATE test_bigint SET data = $1 WHERE id IN ($2, $3, $4);", stmt)
		require.Len(t, placeholderRe.FindAllString(stmt, -1), 4)
	})

	t.Run("delete", func(t *testing.T) {
		stmt, err := c.OperationStatement(UUIDv4, Delete, 1)
		require.NoError(t, err)
		require.Equal(t, "DELETE FROM test_uuidv4 WHERE id IN ($1);", stmt)
	})

	t.Run("zero batch size", func(t *testing.T) {
		for _, k := range KeyTypes {
			for _, o := range Operations {
				_, err := c.OperationStatement(k, o, 0)
				require.Truef(t, errors.Is(err, ErrInvalidArgument), "%v %v", k, o)
			}
		}
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, err := c.OperationStatement(BigInt, Operation(9), 1)
		require.True(t, errors.Is(err, ErrInvalidArgument))
	})

	t.Run("dialects share operation text", func(t *testing.T) {
		pg, err := c.OperationStatement(UUIDv4, Update, 4)
		require.NoError(t, err)
		lite, err := New(SQLite).OperationStatement(UUIDv4, Update, 4)
		require.NoError(t, err)
		assert.Equal(t, pg, lite)
	})
}

func TestCharData(t *testing.T) {
	insert, err := CharData(BigInt, Insert)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("A", 244), insert)

	update, err := CharData(UUIDv7, Update)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("B", 236), update)

	_, err = CharData(BigInt, Select)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = CharData(UUIDv4, Delete)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = CharData(KeyType(7), Insert)
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPrimaryKeyClause(t *testing.T) {
	for _, d := range []Dialect{Postgres, SQLite} {
		c := New(d)
		for _, k := range KeyTypes {
			clause, err := c.PrimaryKeyClause(k)
			require.NoError(t, err)
			require.Contains(t, clause, "PRIMARY KEY")
		}
		_, err := c.PrimaryKeyClause(KeyType(3))
		require.True(t, errors.Is(err, ErrInvalidArgument))
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	require.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	require.Equal(t, SQLite, d)

	_, err = ParseDialect("mysql")
	require.True(t, errors.Is(err, ErrInvalidArgument))
}
