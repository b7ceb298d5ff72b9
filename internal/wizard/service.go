package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/catalog"
	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/shared"
)

// CatalogPort exposes the catalog reads the wizard needs.
type CatalogPort interface {
	ListSolarProducts(ctx context.Context, category catalog.SolarCategory) ([]catalog.SolarProduct, error)
	SolarProductsByID(ctx context.Context, ids []int64) (map[int64]catalog.SolarProduct, error)
	ListPaymentMethods(ctx context.Context) ([]catalog.PaymentMethod, error)
}

// FinalizerPort turns completed state into persisted records.
type FinalizerPort interface {
	Finalize(ctx context.Context, sub Submission) (*quotations.Quotation, error)
}

// PDFEnqueuer schedules document rendering.
type PDFEnqueuer interface {
	EnqueueQuotationPDF(ctx context.Context, quotationID int64) error
}

// Observer receives completion events.
type Observer interface {
	WizardCompleted()
}

// Submission is the input of the final step.
type Submission struct {
	State     *State
	Comments  string
	ClientIP  string
	UserAgent string
}

// Config carries wizard parameters.
type Config struct {
	StateTTL time.Duration
	TaxRate  decimal.Decimal
}

// Service drives the wizard steps.
type Service struct {
	store     Store
	catalog   CatalogPort
	bills     *BillStorage
	finalizer FinalizerPort
	enqueuer  PDFEnqueuer
	observer  Observer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service. enqueuer and observer may be nil.
func NewService(store Store, cat CatalogPort, bills *BillStorage, finalizer FinalizerPort, enqueuer PDFEnqueuer, observer Observer, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 7 * 24 * time.Hour
	}
	return &Service{
		store:     store,
		catalog:   cat,
		bills:     bills,
		finalizer: finalizer,
		enqueuer:  enqueuer,
		observer:  observer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the progress of sessionID.
func (s *Service) State(ctx context.Context, sessionID string) (*State, error) {
	return s.store.Load(ctx, sessionID)
}

// SubmitPersonal stores step 1, starting the state when none exists.
func (s *Service) SubmitPersonal(ctx context.Context, sessionID string, data PersonalData) (*State, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	if err := shared.ValidateStruct(data); err != nil {
		return nil, err
	}
	taxID, err := clients.NormalizeTaxID(data.TaxID)
	if err != nil {
		return nil, httpx.FieldErrors{"tax_id": "is not a valid RUT"}
	}
	data.TaxID = taxID
	data.Email = strings.ToLower(strings.TrimSpace(data.Email))

	state, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		state = NewState(sessionID, s.now(), s.cfg.StateTTL)
	} else if err != nil {
		return nil, err
	}
	return s.apply(ctx, state, data)
}

// SubmitTechnical stores step 2 together with any uploaded bills. Files are
// validated as a batch before any of them is written.
func (s *Service) SubmitTechnical(ctx context.Context, sessionID string, data TechnicalData, files []*multipart.FileHeader) (*State, error) {
	state, err := s.reach(ctx, sessionID, StepTechnical)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(data); err != nil {
		return nil, err
	}
	if err := validateMeasures(data); err != nil {
		return nil, err
	}
	if len(files) > 0 {
		if err := s.bills.Validate(files); err != nil {
			return nil, err
		}
		stored, err := s.bills.Save(files)
		if err != nil {
			return nil, err
		}
		data.Bills = stored
	} else if state.Technical != nil {
		data.Bills = state.Technical.Bills
	}
	return s.apply(ctx, state, data)
}

func validateMeasures(data TechnicalData) error {
	fields := httpx.FieldErrors{}
	if !data.SurfaceM2.IsPositive() {
		fields["surface_m2"] = "must be greater than 0"
	}
	if data.TargetPowerKW.IsNegative() {
		fields["target_power_kw"] = "must be greater than or equal to 0"
	}
	if data.AvgConsumptionKWh.IsNegative() {
		fields["avg_consumption_kwh"] = "must be greater than or equal to 0"
	}
	if len(fields) > 0 {
		return fields
	}
	return nil
}

// Products lists the active solar catalog for step 3.
func (s *Service) Products(ctx context.Context, category catalog.SolarCategory) ([]catalog.SolarProduct, error) {
	return s.catalog.ListSolarProducts(ctx, category)
}

// SubmitProducts stores step 3. Every item must reference an active solar
// product.
func (s *Service) SubmitProducts(ctx context.Context, sessionID string, data ProductSelection) (*State, error) {
	state, err := s.reach(ctx, sessionID, StepProducts)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(data); err != nil {
		return nil, err
	}
	if _, err := s.resolve(ctx, data.Items); err != nil {
		return nil, err
	}
	return s.apply(ctx, state, data)
}

// PaymentMethods lists the informational payment options of step 4.
func (s *Service) PaymentMethods(ctx context.Context) ([]catalog.PaymentMethod, error) {
	return s.catalog.ListPaymentMethods(ctx)
}

// SubmitPayment records step 4.
func (s *Service) SubmitPayment(ctx context.Context, sessionID string, preferredMethodID int64) (*State, error) {
	state, err := s.reach(ctx, sessionID, StepPayment)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, state, PaymentAcknowledgement{PreferredMethodID: preferredMethodID, AcknowledgedAt: s.now()})
}

// Summary is the step 5 overview.
type Summary struct {
	Personal  *PersonalData     `json:"personal"`
	Technical *TechnicalData    `json:"technical"`
	Lines     []quotations.Line `json:"lines"`
	quotations.Totals
}

// Summary prices the current selection. discount is a manual amount and is
// capped like on the final quotation.
func (s *Service) Summary(ctx context.Context, sessionID string, discount decimal.Decimal) (*Summary, error) {
	state, err := s.reach(ctx, sessionID, StepReview)
	if err != nil {
		return nil, err
	}
	if discount.IsNegative() {
		return nil, httpx.FieldErrors{"discount": "must be greater than or equal to 0"}
	}
	var items []SelectedProduct
	if state.Products != nil {
		items = state.Products.Items
	}
	lines, err := s.resolve(ctx, items)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Personal:  state.Personal,
		Technical: state.Technical,
		Lines:     lines,
		Totals:    quotations.ComputeTotals(lines, s.cfg.TaxRate, discount),
	}, nil
}

// SubmitReview stores step 5.
func (s *Service) SubmitReview(ctx context.Context, sessionID string, data Review) (*State, error) {
	state, err := s.reach(ctx, sessionID, StepReview)
	if err != nil {
		return nil, err
	}
	if data.Discount.IsNegative() {
		return nil, httpx.FieldErrors{"discount": "must be greater than or equal to 0"}
	}
	return s.apply(ctx, state, data)
}

// Finalize runs step 6: the client, its technical data and a pending
// quotation are created atomically, then the state is discarded and the
// document is queued for rendering.
func (s *Service) Finalize(ctx context.Context, sessionID string, comments Comments, clientIP, userAgent string) (*quotations.Quotation, error) {
	state, err := s.reach(ctx, sessionID, StepComments)
	if err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(comments); err != nil {
		return nil, err
	}
	if state.Personal == nil || state.Technical == nil || state.Products == nil {
		return nil, ErrStepNotReached
	}
	q, err := s.finalizer.Finalize(ctx, Submission{
		State:     state,
		Comments:  strings.TrimSpace(comments.Text),
		ClientIP:  clientIP,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("wizard state not cleared", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueQuotationPDF(ctx, q.ID); err != nil {
			s.logger.Warn("enqueue quotation pdf", slog.Int64("quotation_id", q.ID), slog.Any("error", err))
		}
	}
	if s.observer != nil {
		s.observer.WizardCompleted()
	}
	s.logger.Info("wizard completed", slog.Int64("quotation_id", q.ID), slog.String("number", q.Number))
	return q, nil
}

// reach loads the state and checks that step may be submitted.
func (s *Service) reach(ctx context.Context, sessionID string, step Step) (*State, error) {
	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Allows(step) {
		return nil, fmt.Errorf("%w: step %d requires step %d", ErrStepNotReached, step, step-1)
	}
	return state, nil
}

func (s *Service) apply(ctx context.Context, state *State, data StepData) (*State, error) {
	state.Apply(data)
	if err := s.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// resolve prices items against the active solar catalog.
func (s *Service) resolve(ctx context.Context, items []SelectedProduct) ([]quotations.Line, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.SolarProductsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	lines := make([]quotations.Line, 0, len(items))
	for i, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: solar product %d", quotations.ErrProductNotFound, it.ProductID)
		}
		in := quotations.LineInput{Catalog: quotations.CatalogSolar, ProductID: p.ID, Quantity: it.Quantity}
		snap := quotations.ProductSnapshot{Name: p.Name, SKU: p.SKU, Description: p.Description, Price: p.Price, Active: p.Active}
		lines = append(lines, quotations.BuildLine(in, snap, i+1))
	}
	return lines, nil
}
