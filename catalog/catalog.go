package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Primary key generation strategy under test
type KeyType int

const (
	BigInt KeyType = iota // auto-incrementing integer
	UUIDv4                // random uuid
	UUIDv7                // time-ordered uuid
)

var KeyTypes = []KeyType{BigInt, UUIDv4, UUIDv7}

func (k KeyType) String() string {
	switch k {
	case BigInt:
		return "bigint"
	case UUIDv4:
		return "uuidv4"
	case UUIDv7:
		return "uuidv7"
	default:
		return fmt.Sprintf("KeyType(%d)", int(k))
	}
}

func ParseKeyType(s string) (KeyType, error) {
	for _, k := range KeyTypes {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "unknown key type %q", s)
}

type Operation int

const (
	Insert Operation = iota
	Select
	Update
	Delete
)

// Lifecycle order of the operations
var Operations = []Operation{Insert, Select, Update, Delete}

func (o Operation) String() string {
	switch o {
	case Insert:
		return "insert"
	case Select:
		return "select"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

func ParseOperation(s string) (Operation, error) {
	for _, o := range Operations {
		if strings.EqualFold(s, o.String()) {
			return o, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "unknown operation %q", s)
}

// Payload widths keep the total row width equal across key types (8 + 244 == 16 + 236).
const (
	CharBigIntLength = 244
	CharUUIDLength   = 236
)

var (
	charBigIntInsert = strings.Repeat("A", CharBigIntLength)
	charBigIntUpdate = strings.Repeat("B", CharBigIntLength)
	charUUIDInsert   = strings.Repeat("A", CharUUIDLength)
	charUUIDUpdate   = strings.Repeat("B", CharUUIDLength)
)

const (
	tableCreate = `DROP TABLE IF EXISTS %[1]s;
CREATE TABLE %[1]s (
    id %[2]s,
    data CHAR(%[3]d) NOT NULL
);`
	tableDrop = "DROP TABLE IF EXISTS %s;"

	insertStatement = "INSERT INTO %s (data) VALUES %s RETURNING id;"
	selectStatement = "SELECT * FROM %s WHERE id IN (%s);"
	updateStatement = "UPDATE %s SET data = $1 WHERE id IN (%s);"
	deleteStatement = "DELETE FROM %s WHERE id IN (%s);"
)

// Catalog builds the statements of the benchmark schema for one SQL dialect. It holds no
// state besides the dialect, so a single value can be shared by every worker.
type Catalog struct {
	dialect Dialect
}

func New(dialect Dialect) *Catalog {
	return &Catalog{dialect: dialect}
}

func (c *Catalog) Dialect() Dialect {
	return c.dialect
}

func TableName(keyType KeyType) (string, error) {
	if err := checkKeyType(keyType); err != nil {
		return "", err
	}
	return "test_" + keyType.String(), nil
}

func (c *Catalog) TableName(keyType KeyType) (string, error) {
	return TableName(keyType)
}

func (c *Catalog) PrimaryKeyClause(keyType KeyType) (string, error) {
	if err := checkKeyType(keyType); err != nil {
		return "", err
	}
	return c.dialect.PrimaryKey(keyType)
}

func (c *Catalog) CreateStatement(keyType KeyType) (string, error) {
	table, err := TableName(keyType)
	if err != nil {
		return "", err
	}
	pk, err := c.PrimaryKeyClause(keyType)
	if err != nil {
		return "", err
	}
	length, err := CharLength(keyType)
	if err != nil {
		return "", err
	}
	stmt := fmt.Sprintf(tableCreate, table, pk, length)
	logStatement("create", keyType, stmt)
	return stmt, nil
}

func (c *Catalog) CheckStatement(keyType KeyType) (string, error) {
	table, err := TableName(keyType)
	if err != nil {
		return "", err
	}
	stmt := c.dialect.CheckTable(table)
	logStatement("check", keyType, stmt)
	return stmt, nil
}

func (c *Catalog) DropStatement(keyType KeyType) (string, error) {
	table, err := TableName(keyType)
	if err != nil {
		return "", err
	}
	stmt := fmt.Sprintf(tableDrop, table)
	logStatement("drop", keyType, stmt)
	return stmt, nil
}

// Returns a statement that yields the size of the table, indexes included, in bytes
func (c *Catalog) SizeStatement(keyType KeyType) (string, error) {
	table, err := TableName(keyType)
	if err != nil {
		return "", err
	}
	return c.dialect.TableSize(table), nil
}

// OperationStatement returns the parameterized statement for one batch. INSERT, SELECT and
// DELETE carry batchSize placeholders; UPDATE carries batchSize+1, the payload being $1.
func (c *Catalog) OperationStatement(keyType KeyType, operation Operation, batchSize int) (string, error) {
	table, err := TableName(keyType)
	if err != nil {
		return "", err
	}
	if batchSize <= 0 {
		return "", errors.Wrapf(ErrInvalidArgument, "batch size must be positive, got %d", batchSize)
	}

	var stmt string
	switch operation {
	case Insert:
		values := make([]string, batchSize)
		for i := range values {
			values[i] = "($" + strconv.Itoa(i+1) + ")"
		}
		stmt = fmt.Sprintf(insertStatement, table, strings.Join(values, ", "))
	case Select:
		stmt = fmt.Sprintf(selectStatement, table, placeholders(1, batchSize))
	case Update:
		stmt = fmt.Sprintf(updateStatement, table, placeholders(2, batchSize))
	case Delete:
		stmt = fmt.Sprintf(deleteStatement, table, placeholders(1, batchSize))
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown operation %v", operation)
	}

	zlog.Debug().Str("keyType", keyType.String()).Str("operation", operation.String()).
		Int("batchSize", batchSize).Str("statement", stmt).Msg("statement")
	return stmt, nil
}

func CharLength(keyType KeyType) (int, error) {
	switch keyType {
	case BigInt:
		return CharBigIntLength, nil
	case UUIDv4, UUIDv7:
		return CharUUIDLength, nil
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "unknown key type %v", keyType)
	}
}

// CharData returns the filler bound to every row of an INSERT or UPDATE batch. The value
// is identical across a batch so timings do not depend on payload contents.
func CharData(keyType KeyType, operation Operation) (string, error) {
	if err := checkKeyType(keyType); err != nil {
		return "", err
	}
	uuidKey := keyType != BigInt
	switch operation {
	case Insert:
		if uuidKey {
			return charUUIDInsert, nil
		}
		return charBigIntInsert, nil
	case Update:
		if uuidKey {
			return charUUIDUpdate, nil
		}
		return charBigIntUpdate, nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "no filler for operation %v", operation)
	}
}

// Returns "$from, $from+1, ..." with n entries
func placeholders(from int, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("$")
		sb.WriteString(strconv.Itoa(from + i))
	}
	return sb.String()
}

func checkKeyType(keyType KeyType) error {
	switch keyType {
	case BigInt, UUIDv4, UUIDv7:
		return nil
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown key type %v", keyType)
	}
}

func logStatement(kind string, keyType KeyType, stmt string) {
	zlog.Debug().Str("keyType", keyType.String()).Str("kind", kind).Str("statement", stmt).Msg("statement")
}
