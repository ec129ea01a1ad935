package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awjans/primarykey/benchmark"
	"github.com/awjans/primarykey/catalog"
	"github.com/awjans/primarykey/config"
	dbutils "github.com/awjans/primarykey/dbUtils"
	"github.com/awjans/primarykey/metrics"
	"github.com/awjans/primarykey/results"
	"github.com/awjans/primarykey/util"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// flags that override the config file
var overridable = []string{
	"driver", "dsn", "key-type", "operation", "workers", "batch-size", "operations",
	"batch-timeout", "seed", "output", "session", "metrics-addr", "s3-bucket",
}

// Prepare zerolog
func setupLogging(disableLog bool, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var zlevel zerolog.Level
	if disableLog {
		zlevel = zerolog.Disabled
	} else if level == "info" {
		zlevel = zerolog.InfoLevel
	} else {
		zlevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(zlevel)
}

// Returns the arguments of the config file, the environment and the flags, in increasing
// order of precedence
func buildArgs(cmd *cobra.Command) *config.Args {
	flags := cmd.Flags()
	config.LoadEnv()
	args := util.Try(config.Load(util.Try(flags.GetString("conf"))))

	for _, name := range overridable {
		if f := flags.Lookup(name); f != nil && f.Changed {
			util.CheckErr(args.Set(name, f.Value.String()))
		}
	}
	util.CheckErr(args.Validate())
	return args
}

// Connects to the benchmark database, creating it first if needed
func connect(ctx context.Context, args *config.Args) *dbutils.DB {
	if args.DSN == "" && !dbutils.IsSQLite(args.Driver) {
		created := util.Try(dbutils.EnsureDatabase(ctx, args.Driver, args.AdminConnString(), args.Database.Name))
		if created {
			fmt.Printf("Database %s created\n", args.Database.Name)
		}
	}

	db := util.Try(dbutils.Open(ctx, dbutils.Options{
		Driver:   args.Driver,
		DSN:      args.ConnString(),
		MaxConns: args.Workers + 1,
	}))
	fmt.Printf("Database version: %s\n", util.Try(db.Version(ctx)))
	return db
}

func runBenchmark(ctx context.Context, args *config.Args) error {
	db := connect(ctx, args)
	defer db.Close()

	var opts []benchmark.Option
	if args.MetricsAddr != "" {
		m := metrics.New()
		m.Serve(ctx, args.MetricsAddr)
		opts = append(opts, benchmark.WithObserver(m))
	}
	b := benchmark.New(db, catalog.New(args.Dialect()), opts...)

	var failed []error
	for _, keyType := range util.Try(args.KeyTypes()) {
		cfg := util.Try(args.Benchmark(keyType))

		fmt.Printf("Running %s\n", keyType)
		table, err := b.Run(ctx, cfg)
		var runErr *benchmark.RunError
		if err != nil && !errors.As(err, &runErr) {
			return err
		}
		if err != nil {
			// partial results are still written
			zlog.Error().Err(err).Str("keyType", keyType.String()).Msg("Run failed")
			failed = append(failed, err)
		}

		path := args.ResultFile(keyType)
		if err := table.WriteFile(path); err != nil {
			return err
		}
		fmt.Printf("Results written to %s\n", path)
		results.PrintSummary(os.Stdout, keyType, args.Workers, table.Summarize())

		if args.S3.Enabled() {
			if _, err := results.Upload(ctx, args.S3, path); err != nil {
				zlog.Error().Err(err).Msg("Upload failed")
				failed = append(failed, err)
			}
		}
	}

	if len(failed) > 0 {
		return errors.Newf("%d step(s) failed", len(failed))
	}
	return nil
}

// Creates the database if needed and every benchmark table
func initTables(ctx context.Context, args *config.Args) error {
	db := connect(ctx, args)
	defer db.Close()

	c := catalog.New(args.Dialect())
	fmt.Println("Creating test tables...")
	for _, keyType := range catalog.KeyTypes {
		stmt, err := c.CreateStatement(keyType)
		if err != nil {
			return err
		}
		if err := dbutils.Exec(ctx, db, stmt); err != nil {
			return errors.Wrapf(err, "create %s table", keyType)
		}
	}
	fmt.Println("Created test tables successfully.")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "pkbench",
		Short: "Primary key strategy benchmark",
		Long: `Primary key strategy benchmark

  Compares auto-incrementing bigint keys with random (v4) and time-ordered (v7)
  uuid keys under concurrent batched inserts, selects, updates and deletes.
`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			flags := cmd.Flags()
			setupLogging(util.Try(flags.GetBool("no-log")), util.Try(flags.GetString("level")))
		},
	}
	persistent := rootCmd.PersistentFlags()
	persistent.Bool("no-log", false, "Disables the log")
	persistent.String("conf", "", "Benchmark config file")
	persistent.String("level", "debug", "Log level (info|debug)")
	persistent.String("driver", "postgres", "Database driver (postgres|pgx|sqlite3)")
	persistent.String("dsn", "", "Connection string, overrides the DB_* variables")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark and write the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(ctx, buildArgs(cmd))
		},
	}
	flags := runCmd.Flags()
	flags.StringP("key-type", "k", config.All, "Key type (bigint|uuidv4|uuidv7|all)")
	flags.StringP("operation", "p", config.All, "Operation (insert|select|update|delete|all)")
	flags.IntP("workers", "w", 4, "Number of concurrent workers")
	flags.IntP("batch-size", "b", 100, "Rows per statement")
	flags.IntP("operations", "n", 10000, "Rows per phase, split among the workers")
	flags.Duration("batch-timeout", 0, "Deadline of each batch (0 disables it)")
	flags.Int64("seed", 1, "Seed of the key sampling")
	flags.StringP("output", "o", "results", "Directory to save result CSV files")
	flags.StringP("session", "s", time.Now().Format(config.SessionFormat), "Session name for result file naming")
	flags.String("metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	flags.String("s3-bucket", "", "Bucket to upload the result CSV files to")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and the benchmark tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initTables(ctx, buildArgs(cmd))
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary <results.csv>...",
		Short: "Print the summary of result files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			for _, path := range paths {
				table, err := results.ReadFile(path)
				if err != nil {
					return err
				}
				_, keyType, _, err := config.ParseResultFile(path)
				if err != nil {
					return err
				}
				workers := map[int]bool{}
				for _, r := range table {
					workers[r.WorkerID] = true
				}
				fmt.Println(path)
				results.PrintSummary(os.Stdout, keyType, len(workers), table.Summarize())
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, initCmd, summaryCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		zlog.Error().Err(err).Msg("Failed")
		os.Exit(1)
	}
}
