package worker

import (
	"database/sql"
	"math/rand"

	"github.com/awjans/primarykey/catalog"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Ledger holds the keys returned by the INSERT batches of one worker, in return order.
// Keys are int64 for bigint tables and uuid.UUID for uuid tables, so they can be bound
// back as statement arguments as they are.
//
// A Ledger is not safe for concurrent use; it belongs to a single worker.
type Ledger struct {
	keys   []any
	perm   []int // permutation of key indexes, shuffled in place by Sample
	cursor int
	rng    *rand.Rand
}

func NewLedger(capacity int, seed int64) *Ledger {
	return &Ledger{
		keys: make([]any, 0, capacity),
		perm: make([]int, 0, capacity),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (l *Ledger) Append(keys ...any) {
	for range keys {
		l.perm = append(l.perm, len(l.perm))
	}
	l.keys = append(l.keys, keys...)
}

func (l *Ledger) Len() int {
	return len(l.keys)
}

// Sample returns n distinct keys chosen uniformly at random, without replacement within
// the call. Consecutive calls are independent of each other.
func (l *Ledger) Sample(n int) ([]any, error) {
	if n > len(l.keys) {
		return nil, errors.Wrapf(ErrPrecondition, "sample of %d keys from a ledger of %d", n, len(l.keys))
	}

	// partial Fisher-Yates: the first n entries of perm become the sample
	sample := make([]any, n)
	for i := 0; i < n; i++ {
		j := i + l.rng.Intn(len(l.perm)-i)
		l.perm[i], l.perm[j] = l.perm[j], l.perm[i]
		sample[i] = l.keys[l.perm[i]]
	}
	return sample, nil
}

// Next returns the following n keys in insertion order and advances the cursor. Over a
// full pass every key is returned exactly once.
func (l *Ledger) Next(n int) ([]any, error) {
	if remaining := len(l.keys) - l.cursor; n > remaining {
		return nil, errors.Wrapf(ErrPrecondition, "next %d keys with %d remaining", n, remaining)
	}
	keys := l.keys[l.cursor : l.cursor+n]
	l.cursor += n
	return keys, nil
}

func (l *Ledger) Remaining() int {
	return len(l.keys) - l.cursor
}

// Reads the generated keys of an INSERT ... RETURNING id
func scanKeys(rows *sql.Rows, keyType catalog.KeyType, capacity int) ([]any, error) {
	defer rows.Close()

	keys := make([]any, 0, capacity)
	for rows.Next() {
		if keyType == catalog.BigInt {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			keys = append(keys, id)
		} else {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			keys = append(keys, id)
		}
	}
	return keys, rows.Err()
}

// Reads every row of a result set, returning how many there were
func drainRows(rows *sql.Rows) (int, error) {
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}
