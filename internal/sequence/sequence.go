// Package sequence assigns human-readable, zero-padded document identifiers
// such as COT-000001 from an atomic counter kept in PostgreSQL.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solarquote/cotizador/internal/platform/db"
)

// Kind describes one identifier series.
type Kind struct {
	Name   string
	Prefix string
	Width  int
}

var (
	// Quotation numbers look like COT-000001.
	Quotation = Kind{Name: "quotation", Prefix: "COT", Width: 6}
	// Product codes look like PROD-00001.
	Product = Kind{Name: "product", Prefix: "PROD", Width: 5}
	// Transaction numbers look like TRX-00000001.
	Transaction = Kind{Name: "transaction", Prefix: "TRX", Width: 8}
)

// ErrExhausted is returned when WithRetry runs out of attempts.
var ErrExhausted = errors.New("sequence: identifier still conflicting after retries")

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Format renders n as "<prefix>-<n zero padded to width>".
func Format(prefix string, n int64, width int) string {
	return fmt.Sprintf("%s-%0*d", prefix, width, n)
}

// Next returns the next identifier of kind. The counter row is incremented in a
// single upsert statement, so concurrent callers always observe distinct
// values; when q is a transaction the increment commits or rolls back with it.
func Next(ctx context.Context, q Querier, kind Kind) (string, error) {
	var value int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET value = document_sequences.value + 1
		RETURNING value
	`, kind.Name).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("sequence %s: %w", kind.Name, err)
	}
	return Format(kind.Prefix, value, kind.Width), nil
}

// WithRetry runs fn until it succeeds, fails with an error other than a unique
// violation on one of constraints, or attempts are exhausted. It covers rows
// whose identifier collides with data imported outside the counter.
func WithRetry(ctx context.Context, attempts int, constraints []string, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !db.IsUniqueViolation(err, constraints...) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrExhausted, err)
}
