package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/solarquote/cotizador/internal/platform/db"
	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/sequence"
	"github.com/solarquote/cotizador/internal/shared"
)

const (
	idempotencyModule = "payments.charge"
	numberRetries     = 3
	maxListLimit      = 100
)

// outcomeTimeout bounds the writes that close a charge after the gateway call.
const outcomeTimeout = 10 * time.Second

var (
	// ErrPaymentRejected indicates the gateway declined the charge.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrAlreadyPaid indicates the quotation has an approved payment.
	ErrAlreadyPaid = errors.New("quotation already paid")
	// ErrChargeInProgress indicates another request holds the idempotency key.
	ErrChargeInProgress = errors.New("charge with this idempotency key is in progress")
)

// GatewayPort is the card gateway.
type GatewayPort interface {
	Tokenize(ctx context.Context, card CardData) (*TokenizeResult, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	DeleteToken(ctx context.Context, token string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Observer receives charge outcomes.
type Observer interface {
	PaymentProcessed(status string)
}

// Service registers cards and charges quotations.
type Service struct {
	repo     Repository
	gateway  GatewayPort
	idem     IdempotencyPort
	audit    AuditPort
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a Service. idem, audit and observer may be nil.
func NewService(repo Repository, gateway GatewayPort, idem IdempotencyPort, audit AuditPort, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, gateway: gateway, idem: idem, audit: audit, observer: observer, logger: logger, now: time.Now}
}

var (
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/(\d{4})$`)
	cvvPattern    = regexp.MustCompile(`^\d{3,4}$`)
)

// RegisterCardInput is the card data sent for tokenization.
type RegisterCardInput struct {
	ClientID int64  `json:"client_id" validate:"required,gt=0"`
	Number   string `json:"number" validate:"required"`
	Holder   string `json:"holder_name" validate:"required,max=100"`
	Expiry   string `json:"expiry" validate:"required"`
	CVV      string `json:"cvv" validate:"required"`
}

func (in *RegisterCardInput) normalise(now time.Time) error {
	if err := shared.ValidateStruct(*in); err != nil {
		return err
	}
	fields := httpx.FieldErrors{}
	in.Number = strings.NewReplacer(" ", "", "-", "").Replace(in.Number)
	if !luhnValid(in.Number) {
		fields["number"] = "is not a valid card number"
	}
	if m := expiryPattern.FindStringSubmatch(in.Expiry); m == nil {
		fields["expiry"] = "must be MM/YYYY"
	} else {
		month, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		if time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC).Before(now) {
			fields["expiry"] = "card has expired"
		}
	}
	if !cvvPattern.MatchString(in.CVV) {
		fields["cvv"] = "must be 3 or 4 digits"
	}
	in.Holder = strings.TrimSpace(in.Holder)
	if len(fields) > 0 {
		return fields
	}
	return nil
}

func luhnValid(number string) bool {
	if len(number) < 12 || len(number) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// RegisterCard tokenizes a card and saves only the token and display data.
// The card becomes the client's default when the client has none.
func (s *Service) RegisterCard(ctx context.Context, in RegisterCardInput) (*Card, error) {
	if err := in.normalise(s.now()); err != nil {
		return nil, err
	}
	exists, err := s.repo.ClientExists(ctx, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("check client: %w", err)
	}
	if !exists {
		return nil, ErrClientNotFound
	}

	token, err := s.gateway.Tokenize(ctx, CardData{
		ClientID: in.ClientID, Number: in.Number, Holder: in.Holder, Expiry: in.Expiry, CVV: in.CVV,
	})
	if err != nil {
		return nil, err
	}

	card := Card{
		ClientID:   in.ClientID,
		Token:      token.Token,
		Last4:      lastFour(token.Last4, in.Number),
		Brand:      token.Brand,
		HolderName: in.Holder,
		Expiry:     in.Expiry,
		Active:     true,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		cards, err := repo.ListCards(ctx, in.ClientID)
		if err != nil {
			return err
		}
		card.IsDefault = !hasDefault(cards)
		card.ID, err = repo.InsertCard(ctx, card)
		return err
	})
	if errors.Is(err, errDefaultTaken) {
		card.IsDefault = false
		card.ID, err = s.repo.InsertCard(ctx, card)
	}
	if err != nil {
		return nil, fmt.Errorf("save card: %w", err)
	}
	s.record(ctx, "card.registered", card.ID, map[string]any{"client_id": card.ClientID, "brand": card.Brand, "last4": card.Last4})
	return s.repo.GetCard(ctx, card.ID)
}

func hasDefault(cards []Card) bool {
	for _, c := range cards {
		if c.IsDefault {
			return true
		}
	}
	return false
}

func lastFour(fromGateway, number string) string {
	if len(fromGateway) == 4 {
		return fromGateway
	}
	return number[len(number)-4:]
}

// ListCards returns the active cards of a client, default first.
func (s *Service) ListCards(ctx context.Context, clientID int64) ([]Card, error) {
	return s.repo.ListCards(ctx, clientID)
}

// SetDefaultCard makes cardID the only default card of its client.
func (s *Service) SetDefaultCard(ctx context.Context, clientID, cardID int64) (*Card, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		card, err := repo.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.ClientID != clientID || !card.Active {
			return ErrCardNotFound
		}
		if err := repo.ClearDefault(ctx, clientID); err != nil {
			return err
		}
		return repo.MarkDefault(ctx, cardID)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetCard(ctx, cardID)
}

// DeleteCard removes a card. The gateway is asked to forget the token on a
// best-effort basis; transactions keep their history with a null card.
func (s *Service) DeleteCard(ctx context.Context, clientID, cardID int64) error {
	card, err := s.repo.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	if card.ClientID != clientID {
		return ErrCardNotFound
	}
	if err := s.gateway.DeleteToken(ctx, card.Token); err != nil {
		s.logger.Warn("gateway token not deleted", slog.Int64("card_id", cardID), slog.Any("error", err))
	}
	if err := s.repo.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	s.record(ctx, "card.deleted", cardID, map[string]any{"client_id": clientID, "last4": card.Last4})
	return nil
}

// ChargeInput identifies a one-click charge.
type ChargeInput struct {
	QuotationID    int64
	CardID         int64
	IdempotencyKey string
	ClientIP       string
}

// ChargeOutcome is the recorded transaction and whether it was replayed from
// an earlier request with the same idempotency key.
type ChargeOutcome struct {
	Transaction *Transaction
	Replayed    bool
}

// Charge charges the quotation total to a saved card. The transaction is
// recorded as PROCESSING before the gateway is called and always ends
// APPROVED or REJECTED. Approval marks the quotation paid in the same
// transaction as the final status. A rejected or failed charge returns the
// recorded transaction together with ErrPaymentRejected or
// ErrGatewayUnavailable.
func (s *Service) Charge(ctx context.Context, in ChargeInput) (*ChargeOutcome, error) {
	fields := httpx.FieldErrors{}
	if in.QuotationID <= 0 {
		fields["quotation_id"] = "is required"
	}
	if in.CardID <= 0 {
		fields["card_id"] = "is required"
	}
	if len(fields) > 0 {
		return nil, fields
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, key)
		if err == nil {
			return &ChargeOutcome{Transaction: existing, Replayed: true}, replayError(existing)
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		if s.idem != nil {
			if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return nil, ErrChargeInProgress
				}
				return nil, err
			}
		}
	}

	txn, card, target, err := s.open(ctx, in, key)
	if err != nil {
		if key != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, key, idempotencyModule)
		}
		return nil, err
	}

	result, gwErr := s.gateway.Charge(ctx, ChargeRequest{
		TransactionNumber: txn.Number,
		Token:             card.Token,
		Amount:            txn.Amount,
		Description:       "Quotation " + target.Number,
	})
	processed := s.now()
	txn.ProcessedAt = &processed

	// Recorded even when the request context is already done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	var outcome error
	switch {
	case gwErr != nil:
		txn.Status = StatusRejected
		txn.ErrorMessage = gwErr.Error()
		outcome = ErrGatewayUnavailable
		err = s.repo.FinishTransaction(ctx, *txn)
	case !result.Approved:
		txn.Status = StatusRejected
		txn.GatewayResponse = result.Raw
		txn.ErrorMessage = rejectionMessage(result.Message)
		outcome = ErrPaymentRejected
		err = s.repo.FinishTransaction(ctx, *txn)
	default:
		txn.Status = StatusApproved
		txn.GatewayResponse = result.Raw
		txn.AuthorizationCode = result.AuthorizationCode
		txn.GatewayID = result.GatewayID
		err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if err := repo.FinishTransaction(ctx, *txn); err != nil {
				return err
			}
			return repo.MarkQuotationPaid(ctx, target.ID, MethodOneClick)
		})
	}
	if err != nil {
		s.logger.Error("charge outcome not recorded",
			slog.String("transaction", txn.Number), slog.String("status", string(txn.Status)), slog.Any("error", err))
		return nil, fmt.Errorf("record charge outcome: %w", err)
	}

	if s.observer != nil {
		s.observer.PaymentProcessed(string(txn.Status))
	}
	s.record(ctx, "payment.charged", txn.ID, map[string]any{
		"number":       txn.Number,
		"quotation_id": txn.QuotationID,
		"amount":       txn.Amount.String(),
		"status":       txn.Status,
	})
	s.logger.Info("charge processed", slog.String("transaction", txn.Number), slog.String("status", string(txn.Status)))
	return &ChargeOutcome{Transaction: txn}, outcome
}

// open validates the charge and persists the PROCESSING transaction.
func (s *Service) open(ctx context.Context, in ChargeInput, key string) (*Transaction, *Card, *ChargeTarget, error) {
	var (
		txn    Transaction
		card   *Card
		target *ChargeTarget
	)
	err := sequence.WithRetry(ctx, numberRetries, []string{NumberConstraint}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			var err error
			target, err = repo.LockQuotation(ctx, in.QuotationID)
			if err != nil {
				return err
			}
			if target.PaymentProcessed {
				return ErrAlreadyPaid
			}
			if !target.Total.IsPositive() {
				return httpx.FieldErrors{"quotation_id": "quotation total must be greater than 0"}
			}
			card, err = repo.GetCard(ctx, in.CardID)
			if err != nil {
				return err
			}
			if card.ClientID != target.ClientID || !card.Active {
				return ErrCardNotFound
			}
			number, err := repo.NextNumber(ctx)
			if err != nil {
				return err
			}
			cardID := card.ID
			txn = Transaction{
				Number:         number,
				QuotationID:    target.ID,
				CardID:         &cardID,
				Method:         MethodOneClick,
				Amount:         target.Total,
				Status:         StatusProcessing,
				IdempotencyKey: key,
				ClientIP:       in.ClientIP,
				CreatedAt:      s.now(),
			}
			txn.ID, err = repo.InsertTransaction(ctx, txn)
			return err
		})
	})
	if db.IsUniqueViolation(err, IdempotencyConstraint) {
		return nil, nil, nil, ErrChargeInProgress
	}
	if err != nil {
		return nil, nil, nil, err
	}
	return &txn, card, target, nil
}

func replayError(t *Transaction) error {
	switch t.Status {
	case StatusRejected:
		if t.GatewayResponse == nil {
			return ErrGatewayUnavailable
		}
		return ErrPaymentRejected
	case StatusProcessing:
		return ErrChargeInProgress
	}
	return nil
}

func rejectionMessage(msg string) string {
	if msg == "" {
		return "payment rejected"
	}
	return msg
}

// GetTransaction returns one transaction.
func (s *Service) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions returns a page of transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, httpx.FieldErrors{"status": "is not a valid transaction status"}
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "saved_card"
	if strings.HasPrefix(action, "payment.") {
		entity = "transaction"
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
