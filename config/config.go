package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/awjans/primarykey/benchmark"
	"github.com/awjans/primarykey/catalog"
	dbutils "github.com/awjans/primarykey/dbUtils"
	"github.com/awjans/primarykey/results"
	"github.com/awjans/primarykey/worker"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// All selects every key type, or the whole lifecycle for the operation
const All = "all"

const SessionFormat = "20060102150405"

type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
}

type Args struct {
	Driver       string            `yaml:"driver"` // postgres, pgx or sqlite3
	DSN          string            `yaml:"dsn"`    // takes precedence over Database
	Database     Database          `yaml:"database"`
	KeyType      string            `yaml:"keyType"`   // key type name or "all"
	Operation    string            `yaml:"operation"` // operation name or "all"
	Workers      int               `yaml:"workers"`
	BatchSize    int               `yaml:"batchSize"`
	Operations   int               `yaml:"operations"`
	BatchTimeout time.Duration     `yaml:"batchTimeout"`
	Seed         int64             `yaml:"seed"`
	ResultDir    string            `yaml:"resultDir"`
	Session      string            `yaml:"session"`
	MetricsAddr  string            `yaml:"metricsAddr"`
	S3           results.S3Options `yaml:"s3"`
}

// Loads the .env files (./.env if none given) into the environment. Missing files are
// ignored.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func getenv(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// Default returns the arguments used when neither the config file nor the flags set them.
// The connection comes from the DB_* environment variables.
func Default() *Args {
	port, err := strconv.Atoi(getenv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return &Args{
		Driver: getenv("DB_DRIVER", "postgres"),
		Database: Database{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     port,
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", "password"),
			Name:     getenv("DB_NAME", "testdb"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		KeyType:    All,
		Operation:  All,
		Workers:    4,
		BatchSize:  100,
		Operations: 10000,
		Seed:       1,
		ResultDir:  "results",
		Session:    time.Now().Format(SessionFormat),
	}
}

// Load returns the defaults overridden by the values of the yaml file, if any
func Load(configFile string) (*Args, error) {
	args := Default()
	if configFile == "" {
		return args, nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", configFile)
	}
	if err := yaml.Unmarshal(data, args); err != nil {
		return nil, errors.Wrapf(err, "parse %s", configFile)
	}
	return args, nil
}

// Set overrides a single argument from its command line representation
func (a *Args) Set(name string, value string) error {
	var err error
	switch name {
	case "driver":
		a.Driver = value
	case "dsn":
		a.DSN = value
	case "key-type":
		a.KeyType = value
	case "operation":
		a.Operation = value
	case "workers":
		a.Workers, err = strconv.Atoi(value)
	case "batch-size":
		a.BatchSize, err = strconv.Atoi(value)
	case "operations":
		a.Operations, err = strconv.Atoi(value)
	case "batch-timeout":
		a.BatchTimeout, err = time.ParseDuration(value)
	case "seed":
		a.Seed, err = strconv.ParseInt(value, 10, 64)
	case "output":
		a.ResultDir = value
	case "session":
		a.Session = value
	case "metrics-addr":
		a.MetricsAddr = value
	case "s3-bucket":
		a.S3.Bucket = value
	default:
		return errors.Wrapf(catalog.ErrInvalidArgument, "unknown argument %q", name)
	}
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "argument %s", name), catalog.ErrInvalidArgument)
	}
	return nil
}

func (a *Args) Validate() error {
	if _, err := dbutils.DriverName(a.Driver); err != nil {
		return errors.Mark(err, catalog.ErrInvalidArgument)
	}
	if _, err := a.KeyTypes(); err != nil {
		return err
	}
	if _, _, err := a.Mode(); err != nil {
		return err
	}
	if a.Workers <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "workers must be positive, got %d", a.Workers)
	}
	if a.BatchSize <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "batch size must be positive, got %d", a.BatchSize)
	}
	if a.Operations <= 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "operations must be positive, got %d", a.Operations)
	}
	if a.Operations%a.Workers != 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument,
			"operations (%d) must be divisible by workers (%d)", a.Operations, a.Workers)
	}
	if a.BatchTimeout < 0 {
		return errors.Wrapf(catalog.ErrInvalidArgument, "negative batch timeout %v", a.BatchTimeout)
	}
	if a.Session == "" {
		return errors.Wrap(catalog.ErrInvalidArgument, "empty session")
	}
	return nil
}

// Returns the key types to benchmark, in order
func (a *Args) KeyTypes() ([]catalog.KeyType, error) {
	if strings.EqualFold(a.KeyType, All) {
		return catalog.KeyTypes, nil
	}
	k, err := catalog.ParseKeyType(a.KeyType)
	if err != nil {
		return nil, err
	}
	return []catalog.KeyType{k}, nil
}

func (a *Args) Mode() (worker.Mode, catalog.Operation, error) {
	if strings.EqualFold(a.Operation, All) {
		return worker.Lifecycle, catalog.Insert, nil
	}
	op, err := catalog.ParseOperation(a.Operation)
	if err != nil {
		return 0, 0, err
	}
	return worker.Single, op, nil
}

func (a *Args) Dialect() catalog.Dialect {
	if dbutils.IsSQLite(a.Driver) {
		return catalog.SQLite
	}
	return catalog.Postgres
}

// Returns the orchestrator configuration for one key type
func (a *Args) Benchmark(keyType catalog.KeyType) (benchmark.Config, error) {
	mode, op, err := a.Mode()
	if err != nil {
		return benchmark.Config{}, err
	}
	return benchmark.Config{
		KeyType:      keyType,
		Mode:         mode,
		Operation:    op,
		Workers:      a.Workers,
		BatchSize:    a.BatchSize,
		Operations:   a.Operations,
		BatchTimeout: a.BatchTimeout,
		Seed:         a.Seed,
	}, nil
}

// Connection string of the benchmark database
func (a *Args) ConnString() string {
	if a.DSN != "" {
		return a.DSN
	}
	if dbutils.IsSQLite(a.Driver) {
		name := a.Database.Name
		if filepath.Ext(name) == "" {
			name += ".db"
		}
		return dbutils.SQLiteDSN(name)
	}
	return a.Database.connString(a.Database.Name)
}

// Connection string of the maintenance database, used to create the benchmark database
func (a *Args) AdminConnString() string {
	return a.Database.connString("postgres")
}

func (d Database) connString(dbname string) string {
	parts := []string{
		"host=" + quote(d.Host),
		"port=" + strconv.Itoa(d.Port),
		"user=" + quote(d.User),
		"password=" + quote(d.Password),
		"dbname=" + quote(dbname),
	}
	if d.SSLMode != "" {
		parts = append(parts, "sslmode="+quote(d.SSLMode))
	}
	return strings.Join(parts, " ")
}

// Quotes a key/value connection string value when needed
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Path of the result csv of a key type
func (a *Args) ResultFile(keyType catalog.KeyType) string {
	return filepath.Join(a.ResultDir, fmt.Sprintf("%s-%s-%s.csv", a.Session, keyType, strings.ToLower(a.Operation)))
}

// ParseResultFile splits a path built by ResultFile into its session, key type and
// operation
func ParseResultFile(path string) (string, catalog.KeyType, string, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".csv")
	parts := strings.Split(name, "-")
	if len(parts) < 3 {
		return "", 0, "", errors.Wrapf(catalog.ErrInvalidArgument, "unexpected result file name %q", path)
	}
	n := len(parts)
	keyType, err := catalog.ParseKeyType(parts[n-2])
	if err != nil {
		return "", 0, "", err
	}
	return strings.Join(parts[:n-2], "-"), keyType, parts[n-1], nil
}
