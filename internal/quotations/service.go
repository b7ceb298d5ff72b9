package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/sequence"
	"github.com/solarquote/cotizador/internal/shared"
)

const (
	maxListLimit  = 100
	numberRetries = 3
)

var (
	// ErrInvalidStatus indicates a disallowed status transition.
	ErrInvalidStatus = errors.New("invalid status transition")
	// ErrQuotationLocked indicates the quotation is approved or paid.
	ErrQuotationLocked = errors.New("quotation can no longer be modified")
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config carries pricing parameters.
type Config struct {
	TaxRate  decimal.Decimal
	Validity time.Duration
}

// Service coordinates quotation operations. Every write that touches lines
// recomputes the header totals in the same transaction.
type Service struct {
	repo   Repository
	cfg    Config
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a Service. audit may be nil.
func NewService(repo Repository, cfg Config, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cfg: cfg, audit: audit, logger: logger, now: time.Now}
}

// TaxRate returns the configured tax rate.
func (s *Service) TaxRate() decimal.Decimal {
	return s.cfg.TaxRate
}

// CreateInput describes a new quotation.
type CreateInput struct {
	ClientID          int64
	Source            Source
	Status            Status
	Notes             string
	Comments          string
	ManualDiscount    decimal.Decimal
	ValidUntil        *time.Time
	TechnicalSnapshot json.RawMessage
	ClientIP          string
	UserAgent         string
	Lines             []LineInput
}

func (in CreateInput) validate() error {
	fields := httpx.FieldErrors{}
	if in.ClientID <= 0 {
		fields["client_id"] = "is required"
	}
	if in.ManualDiscount.IsNegative() {
		fields["manual_discount"] = "must be greater than or equal to 0"
	}
	for i, l := range in.Lines {
		if err := l.validate(lineField(i)); err != nil {
			var fe httpx.FieldErrors
			if errors.As(err, &fe) {
				for k, v := range fe {
					fields[k] = v
				}
			}
		}
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

// Create stores a quotation with its lines and totals in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Quotation, error) {
	var created *Quotation
	err := sequence.WithRetry(ctx, numberRetries, []string{NumberConstraint}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			q, err := s.CreateWith(ctx, repo, in)
			created = q
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.RecordCreated(ctx, created)
	return s.repo.Get(ctx, created.ID)
}

// CreateWith performs Create using repo, which callers bind to a transaction
// they already hold. The returned quotation carries its lines.
func (s *Service) CreateWith(ctx context.Context, repo Repository, in CreateInput) (*Quotation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	exists, err := repo.ClientExists(ctx, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("check client: %w", err)
	}
	if !exists {
		return nil, ErrClientNotFound
	}

	lines := make([]Line, 0, len(in.Lines))
	for i, li := range in.Lines {
		line, err := s.priceLine(ctx, repo, li, i+1)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	number, err := repo.NextNumber(ctx)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = StatusDraft
	}
	source := in.Source
	if source == "" {
		source = SourceIntranet
	}
	q := Quotation{
		Number:            number,
		UUID:              uuid.NewString(),
		ClientID:          in.ClientID,
		Source:            source,
		Status:            status,
		ValidUntil:        in.ValidUntil,
		Notes:             strings.TrimSpace(in.Notes),
		Comments:          strings.TrimSpace(in.Comments),
		TechnicalSnapshot: in.TechnicalSnapshot,
		ClientIP:          in.ClientIP,
		UserAgent:         in.UserAgent,
	}
	if q.ValidUntil == nil {
		q.ValidUntil = s.validUntil()
	}
	ComputeTotals(lines, s.cfg.TaxRate, in.ManualDiscount).Apply(&q)

	q.ID, err = repo.Insert(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("insert quotation: %w", err)
	}
	for i := range lines {
		lines[i].QuotationID = q.ID
		lines[i].ID, err = repo.InsertLine(ctx, lines[i])
		if err != nil {
			return nil, fmt.Errorf("insert line: %w", err)
		}
	}
	q.Lines = lines
	return &q, nil
}

// RecordCreated writes the creation audit entry once the transaction holding
// CreateWith has committed.
func (s *Service) RecordCreated(ctx context.Context, q *Quotation) {
	s.record(ctx, "quotation.created", q.ID, map[string]any{"number": q.Number, "source": q.Source, "total": q.Total.String()})
}

func (s *Service) validUntil() *time.Time {
	if s.cfg.Validity <= 0 {
		return nil
	}
	t := s.now().Add(s.cfg.Validity).UTC().Truncate(24 * time.Hour)
	return &t
}

func (s *Service) priceLine(ctx context.Context, repo Repository, in LineInput, order int) (Line, error) {
	snap, err := repo.ProductSnapshot(ctx, in.Catalog, in.ProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return Line{}, fmt.Errorf("%w: %s %d", ErrProductNotFound, strings.ToLower(string(in.Catalog)), in.ProductID)
		}
		return Line{}, err
	}
	if !snap.Active {
		return Line{}, fmt.Errorf("%w: %s %d is inactive", ErrProductNotFound, strings.ToLower(string(in.Catalog)), in.ProductID)
	}
	return BuildLine(in, *snap, order), nil
}

// mutate locks the quotation, runs fn and rewrites the header totals, all in
// one transaction.
func (s *Service) mutate(ctx context.Context, id int64, fn func(ctx context.Context, repo Repository, q *Quotation) error) (*Quotation, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		q, err := repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if !q.Editable() {
			return ErrQuotationLocked
		}
		if err := fn(ctx, repo, q); err != nil {
			return err
		}
		lines, err := repo.ListLines(ctx, id)
		if err != nil {
			return err
		}
		return repo.UpdateTotals(ctx, id, ComputeTotals(lines, s.cfg.TaxRate, q.ManualDiscount))
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// AddLine appends a line and recomputes totals.
func (s *Service) AddLine(ctx context.Context, quotationID int64, in LineInput) (*Quotation, error) {
	if err := in.validate("line"); err != nil {
		return nil, err
	}
	return s.mutate(ctx, quotationID, func(ctx context.Context, repo Repository, q *Quotation) error {
		existing, err := repo.ListLines(ctx, quotationID)
		if err != nil {
			return err
		}
		order := 1
		for _, l := range existing {
			if l.LineOrder >= order {
				order = l.LineOrder + 1
			}
		}
		line, err := s.priceLine(ctx, repo, in, order)
		if err != nil {
			return err
		}
		line.QuotationID = quotationID
		_, err = repo.InsertLine(ctx, line)
		return err
	})
}

// LineUpdate changes quantity, price or discount of an existing line.
type LineUpdate struct {
	Quantity        *int
	UnitPrice       *decimal.Decimal
	DiscountPercent *decimal.Decimal
}

// UpdateLine edits a line and recomputes totals. The product snapshot is kept.
func (s *Service) UpdateLine(ctx context.Context, quotationID, lineID int64, upd LineUpdate) (*Quotation, error) {
	return s.mutate(ctx, quotationID, func(ctx context.Context, repo Repository, q *Quotation) error {
		line, err := repo.GetLine(ctx, quotationID, lineID)
		if err != nil {
			return err
		}
		in := LineInput{Catalog: line.Catalog, ProductID: line.ProductID, Quantity: line.Quantity,
			UnitPrice: &line.UnitPrice, DiscountPercent: line.DiscountPercent}
		if upd.Quantity != nil {
			in.Quantity = *upd.Quantity
		}
		if upd.UnitPrice != nil {
			in.UnitPrice = upd.UnitPrice
		}
		if upd.DiscountPercent != nil {
			in.DiscountPercent = *upd.DiscountPercent
		}
		if err := in.validate("line"); err != nil {
			return err
		}
		snap := ProductSnapshot{Name: line.ProductName, SKU: line.ProductSKU, Description: line.ProductDescription}
		next := BuildLine(in, snap, line.LineOrder)
		next.ID = line.ID
		next.QuotationID = quotationID
		return repo.UpdateLine(ctx, next)
	})
}

// RemoveLine deletes a line and recomputes totals.
func (s *Service) RemoveLine(ctx context.Context, quotationID, lineID int64) (*Quotation, error) {
	return s.mutate(ctx, quotationID, func(ctx context.Context, repo Repository, q *Quotation) error {
		return repo.DeleteLine(ctx, quotationID, lineID)
	})
}

// SetManualDiscount stores a flat discount subtracted from subtotal + tax.
func (s *Service) SetManualDiscount(ctx context.Context, quotationID int64, amount decimal.Decimal) (*Quotation, error) {
	if amount.IsNegative() {
		return nil, httpx.FieldErrors{"manual_discount": "must be greater than or equal to 0"}
	}
	return s.mutate(ctx, quotationID, func(ctx context.Context, repo Repository, q *Quotation) error {
		q.ManualDiscount = amount
		return nil
	})
}

// ChangeStatus moves a quotation along the lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, id int64, to Status) (*Quotation, error) {
	if !to.Valid() {
		return nil, httpx.FieldErrors{"status": "must be one of DRAFT PENDING SENT APPROVED REJECTED"}
	}
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		q, err := repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		from = q.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStatus, from, to)
		}
		var sentAt *time.Time
		if to == StatusSent {
			now := s.now().UTC()
			sentAt = &now
		}
		return repo.UpdateStatus(ctx, id, to, sentAt)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "quotation.status_changed", id, map[string]any{"from": from, "to": to})
	return s.repo.Get(ctx, id)
}

// Duplicate copies a quotation's lines into a new PENDING quotation.
func (s *Service) Duplicate(ctx context.Context, id int64) (*Quotation, error) {
	var newID int64
	err := sequence.WithRetry(ctx, numberRetries, []string{NumberConstraint}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			src, err := repo.Get(ctx, id)
			if err != nil {
				return err
			}
			number, err := repo.NextNumber(ctx)
			if err != nil {
				return err
			}
			q := Quotation{
				Number:            number,
				UUID:              uuid.NewString(),
				ClientID:          src.ClientID,
				Source:            SourceIntranet,
				Status:            StatusPending,
				ValidUntil:        s.validUntil(),
				Notes:             "Copy of quotation " + src.Number,
				Comments:          src.Comments,
				TechnicalSnapshot: src.TechnicalSnapshot,
			}
			lines := make([]Line, len(src.Lines))
			copy(lines, src.Lines)
			ComputeTotals(lines, s.cfg.TaxRate, src.ManualDiscount).Apply(&q)

			newID, err = repo.Insert(ctx, q)
			if err != nil {
				return err
			}
			for _, l := range lines {
				l.ID = 0
				l.QuotationID = newID
				if _, err := repo.InsertLine(ctx, l); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "quotation.duplicated", newID, map[string]any{"source_id": id})
	return s.repo.Get(ctx, newID)
}

// Delete removes a quotation and its lines unless it has been paid.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		q, err := repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if q.PaymentProcessed {
			return ErrQuotationLocked
		}
		number = q.Number
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "quotation.deleted", id, map[string]any{"number": number})
	return nil
}

// Get returns a quotation with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Quotation, error) {
	return s.repo.Get(ctx, id)
}

// List returns quotation headers without lines.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Quotation, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, httpx.FieldErrors{"status": "unknown status"}
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.List(ctx, filter)
}

// SetPDF records where the rendered document was stored.
func (s *Service) SetPDF(ctx context.Context, id int64, path string) error {
	return s.repo.SetPDF(ctx, id, path, s.now().UTC())
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "quotation", EntityID: strconv.FormatInt(id, 10), Meta: meta})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
