package wizard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/platform/db"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/sequence"
)

const finalizeRetries = 3

// ClientWriter is the subset of the client repository used on finalisation.
type ClientWriter interface {
	UpsertByTaxID(ctx context.Context, c clients.Client) (*clients.Client, bool, error)
	UpsertTechnicalData(ctx context.Context, td clients.TechnicalData) (*clients.TechnicalData, bool, error)
	AddAttachment(ctx context.Context, a clients.Attachment) (int64, error)
}

// QuotationCreator creates quotations inside a caller-held transaction.
type QuotationCreator interface {
	CreateWith(ctx context.Context, repo quotations.Repository, in quotations.CreateInput) (*quotations.Quotation, error)
	RecordCreated(ctx context.Context, q *quotations.Quotation)
}

// TxRepos are repositories bound to one transaction.
type TxRepos struct {
	Clients    ClientWriter
	Quotations quotations.Repository
}

// TxRunner runs fn inside a single transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context, repos TxRepos) error) error

// PostgresTx returns a TxRunner over pool.
func PostgresTx(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context, repos TxRepos) error) error {
		return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			return fn(ctx, TxRepos{
				Clients:    clients.NewTxRepository(tx),
				Quotations: quotations.NewTxRepository(tx),
			})
		})
	}
}

// Finalizer persists a completed wizard in one transaction.
type Finalizer struct {
	run    TxRunner
	quotes QuotationCreator
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(run TxRunner, quotes QuotationCreator) *Finalizer {
	return &Finalizer{run: run, quotes: quotes}
}

// Finalize upserts the client by tax ID and its technical data, keeping
// existing records, attaches uploaded bills and creates a pending quotation
// priced from the solar catalog.
func (f *Finalizer) Finalize(ctx context.Context, sub Submission) (*quotations.Quotation, error) {
	var created *quotations.Quotation
	err := sequence.WithRetry(ctx, finalizeRetries, []string{quotations.NumberConstraint}, func(ctx context.Context) error {
		return f.run(ctx, func(ctx context.Context, repos TxRepos) error {
			q, err := f.persist(ctx, repos, sub)
			created = q
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	f.quotes.RecordCreated(ctx, created)
	return created, nil
}

func (f *Finalizer) persist(ctx context.Context, repos TxRepos, sub Submission) (*quotations.Quotation, error) {
	state := sub.State
	p := state.Personal
	client, _, err := repos.Clients.UpsertByTaxID(ctx, clients.Client{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		TaxID:     p.TaxID,
		Email:     p.Email,
		Phone:     p.Phone,
		Region:    p.Region,
		Address:   p.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert client: %w", err)
	}

	t := state.Technical
	td, _, err := repos.Clients.UpsertTechnicalData(ctx, clients.TechnicalData{
		ClientID:          client.ID,
		RoofType:          t.RoofType,
		Orientation:       t.Orientation,
		SurfaceM2:         optional(t.SurfaceM2),
		TargetPowerKW:     optional(t.TargetPowerKW),
		AvgConsumptionKWh: optional(t.AvgConsumptionKWh),
		Notes:             t.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert technical data: %w", err)
	}
	for _, bill := range t.Bills {
		if _, err := repos.Clients.AddAttachment(ctx, clients.Attachment{
			TechnicalDataID: td.ID,
			StoredPath:      bill.Path,
			OriginalName:    bill.OriginalName,
			SizeBytes:       bill.SizeBytes,
			MimeType:        bill.MimeType,
		}); err != nil {
			return nil, fmt.Errorf("add attachment: %w", err)
		}
	}

	snapshot, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode technical snapshot: %w", err)
	}
	lines := make([]quotations.LineInput, 0, len(state.Products.Items))
	for _, it := range state.Products.Items {
		lines = append(lines, quotations.LineInput{
			Catalog:   quotations.CatalogSolar,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
		})
	}
	in := quotations.CreateInput{
		ClientID:          client.ID,
		Source:            quotations.SourceWizard,
		Status:            quotations.StatusPending,
		Comments:          sub.Comments,
		TechnicalSnapshot: snapshot,
		ClientIP:          sub.ClientIP,
		UserAgent:         sub.UserAgent,
		Lines:             lines,
	}
	if state.Review != nil {
		in.ManualDiscount = state.Review.Discount
	}
	return f.quotes.CreateWith(ctx, repos.Quotations, in)
}

func optional(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: !d.IsZero()}
}
