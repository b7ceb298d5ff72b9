package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterStore mimics the atomic upsert: every QueryRow increments the named
// counter under a lock, like the row lock PostgreSQL takes on conflict.
type counterStore struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

type counterRow struct {
	value int64
	err   error
}

func (r counterRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.value
	return nil
}

func (s *counterStore) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	if s.err != nil {
		return counterRow{err: s.err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := args[0].(string)
	s.values[name]++
	return counterRow{value: s.values[name]}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "COT-000001", Format("COT", 1, 6))
	assert.Equal(t, "PROD-00042", Format("PROD", 42, 5))
	assert.Equal(t, "TRX-00000007", Format("TRX", 7, 8))
	assert.Equal(t, "COT-1234567", Format("COT", 1234567, 6))
}

func TestNextStartsAtOne(t *testing.T) {
	store := &counterStore{values: map[string]int64{}}
	id, err := Next(context.Background(), store, Quotation)
	require.NoError(t, err)
	assert.Equal(t, "COT-000001", id)

	id, err = Next(context.Background(), store, Product)
	require.NoError(t, err)
	assert.Equal(t, "PROD-00001", id)
}

func TestNextConcurrentIdentifiersAreDistinct(t *testing.T) {
	store := &counterStore{values: map[string]int64{}}
	const n = 200

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := Next(context.Background(), store, Transaction)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate identifier %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestNextWrapsStorageError(t *testing.T) {
	store := &counterStore{err: errors.New("connection reset")}
	_, err := Next(context.Background(), store, Quotation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence quotation")
}

func TestWithRetryRetriesUniqueViolations(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, []string{"quotations_number_key"}, func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "23505", ConstraintName: "quotations_number_key"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := WithRetry(context.Background(), 5, nil, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryIgnoresOtherConstraints(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 5, []string{"quotations_number_key"}, func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "23505", ConstraintName: "clients_tax_id_key"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhausted(t *testing.T) {
	err := WithRetry(context.Background(), 2, nil, func(context.Context) error {
		return &pgconn.PgError{Code: "23505"}
	})
	assert.ErrorIs(t, err, ErrExhausted)
}
