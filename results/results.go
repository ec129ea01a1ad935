package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/awjans/primarykey/catalog"
	"github.com/awjans/primarykey/util"
	"github.com/awjans/primarykey/worker"
	"github.com/cockroachdb/errors"
)

var Header = []string{"workerid", "operation", "batchsize", "duration"}

// Table is the ordered list of batch records of a run
type Table []worker.Record

// Writes the table as csv, durations in seconds
func (t Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, r := range t {
		record := []string{
			strconv.Itoa(r.WorkerID),
			r.Operation.String(),
			strconv.Itoa(r.BatchSize),
			strconv.FormatFloat(r.Duration.Seconds(), 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, "write record")
		}
	}
	writer.Flush()
	return errors.WithStack(writer.Error())
}

// Writes the table to path, creating its directory if needed
func (t Table) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()

	if err := t.WriteCSV(file); err != nil {
		return err
	}
	return errors.WithStack(file.Close())
}

func ReadCSV(r io.Reader) (Table, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	if len(rows) == 0 {
		return nil, errors.New("missing csv header")
	}
	for i, column := range Header {
		if len(rows[0]) != len(Header) || rows[0][i] != column {
			return nil, errors.Newf("unexpected csv header %v", rows[0])
		}
	}

	table := make(Table, 0, len(rows)-1)
	for i, row := range rows[1:] {
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+2)
		}
		op, err := catalog.ParseOperation(row[1])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+2)
		}
		batchSize, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+2)
		}
		seconds, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+2)
		}
		table = append(table, worker.Record{
			WorkerID:  id,
			Operation: op,
			BatchSize: batchSize,
			Duration:  time.Duration(seconds * float64(time.Second)),
		})
	}
	return table, nil
}

func ReadFile(path string) (Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()
	return ReadCSV(file)
}

type OperationSummary struct {
	Operation catalog.Operation
	Batches   int
	Rows      int
	Rt        float64 // mean batch duration (s)
	RtP95     float64 // 95th percentile batch duration (s), NaN with a single batch
	RowsPerS  float64 // sum of the throughput of each worker
}

// Summarize aggregates the records per operation, in lifecycle order. Operations with no
// records are left out.
func (t Table) Summarize() []OperationSummary {
	type workerTotals struct {
		rows     int
		duration float64
	}

	rts := map[catalog.Operation][]float64{}
	perWorker := map[catalog.Operation]map[int]*workerTotals{}
	summaries := map[catalog.Operation]*OperationSummary{}

	for _, r := range t {
		s, ok := summaries[r.Operation]
		if !ok {
			s = &OperationSummary{Operation: r.Operation}
			summaries[r.Operation] = s
			perWorker[r.Operation] = map[int]*workerTotals{}
		}
		rt := r.Duration.Seconds()
		s.Batches++
		s.Rows += r.BatchSize
		s.Rt += rt
		rts[r.Operation] = append(rts[r.Operation], rt)

		totals, ok := perWorker[r.Operation][r.WorkerID]
		if !ok {
			totals = &workerTotals{}
			perWorker[r.Operation][r.WorkerID] = totals
		}
		totals.rows += r.BatchSize
		totals.duration += rt
	}

	out := []OperationSummary{}
	for _, op := range catalog.Operations {
		s, ok := summaries[op]
		if !ok {
			continue
		}
		s.Rt /= float64(s.Batches)
		s.RtP95 = util.Percentile(rts[op], 95)
		for _, totals := range perWorker[op] {
			if totals.duration > 0 {
				s.RowsPerS += float64(totals.rows) / totals.duration
			}
		}
		out = append(out, *s)
	}
	return out
}

// Prints the summary as "CsvOps:" lines followed by a key-value block
func PrintSummary(w io.Writer, keyType catalog.KeyType, workers int, summaries []OperationSummary) {
	fmt.Fprintln(w, "CsvOps:keytype,workers,operation,batches,rows,rt,rtP95,rowsPerSecond")
	kv := fmt.Sprintf("keytype: %s\nworkers: %d", keyType, workers)
	for _, s := range summaries {
		fmt.Fprintf(w, "CsvOps:%s,%d,%s,%d,%d,%.6f,%.6f,%.3f\n",
			keyType, workers, s.Operation, s.Batches, s.Rows, s.Rt, s.RtP95, s.RowsPerS)
		kv += fmt.Sprintf("\n%s.rt: %.6f", s.Operation, s.Rt)
		kv += fmt.Sprintf("\n%s.rtP95: %.6f", s.Operation, s.RtP95)
		kv += fmt.Sprintf("\n%s.rowsPerSecond: %.3f", s.Operation, s.RowsPerS)
	}
	fmt.Fprintln(w, kv)
}
