package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarquote/cotizador/internal/platform/db"
	"github.com/solarquote/cotizador/internal/quotations"
	"github.com/solarquote/cotizador/internal/sequence"
)

const (
	// NumberConstraint is the unique constraint on transaction numbers.
	NumberConstraint = "transactions_number_key"
	// IdempotencyConstraint guards transactions.idempotency_key.
	IdempotencyConstraint = "transactions_idempotency_key_key"
	defaultCardIndex      = "saved_cards_one_default_idx"
)

var (
	// ErrCardNotFound indicates the card is missing or belongs to another client.
	ErrCardNotFound = errors.New("card not found")
	// ErrTransactionNotFound indicates the transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrQuotationNotFound indicates the quotation to charge does not exist.
	ErrQuotationNotFound = errors.New("quotation not found")
	// ErrClientNotFound indicates the card owner does not exist.
	ErrClientNotFound = errors.New("client not found")
	errDefaultTaken   = errors.New("client already has a default card")
)

// Repository persists cards and transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	ClientExists(ctx context.Context, id int64) (bool, error)
	ListCards(ctx context.Context, clientID int64) ([]Card, error)
	GetCard(ctx context.Context, id int64) (*Card, error)
	InsertCard(ctx context.Context, c Card) (int64, error)
	ClearDefault(ctx context.Context, clientID int64) error
	MarkDefault(ctx context.Context, cardID int64) error
	DeleteCard(ctx context.Context, id int64) error
	NextNumber(ctx context.Context) (string, error)
	LockQuotation(ctx context.Context, id int64) (*ChargeTarget, error)
	MarkQuotationPaid(ctx context.Context, id int64, method Method) error
	InsertTransaction(ctx context.Context, t Transaction) (int64, error)
	FinishTransaction(ctx context.Context, t Transaction) error
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a pool-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx})
	})
}

func (r *repository) ClientExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

const cardColumns = `id, client_id, token, last4, brand, holder_name, expiry, is_default, active, created_at`

func scanCard(row pgx.Row) (*Card, error) {
	var c Card
	err := row.Scan(&c.ID, &c.ClientID, &c.Token, &c.Last4, &c.Brand, &c.HolderName, &c.Expiry, &c.IsDefault, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) ListCards(ctx context.Context, clientID int64) ([]Card, error) {
	rows, err := r.db.Query(ctx, `SELECT `+cardColumns+` FROM saved_cards
		WHERE client_id = $1 AND active ORDER BY is_default DESC, created_at DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := []Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

func (r *repository) GetCard(ctx context.Context, id int64) (*Card, error) {
	return scanCard(r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM saved_cards WHERE id = $1`, id))
}

func (r *repository) InsertCard(ctx context.Context, c Card) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO saved_cards (client_id, token, last4, brand, holder_name, expiry, is_default, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id`,
		c.ClientID, c.Token, c.Last4, c.Brand, c.HolderName, c.Expiry, c.IsDefault,
	).Scan(&id)
	if db.IsUniqueViolation(err, defaultCardIndex) {
		return 0, errDefaultTaken
	}
	return id, err
}

func (r *repository) ClearDefault(ctx context.Context, clientID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE saved_cards SET is_default = FALSE WHERE client_id = $1 AND is_default`, clientID)
	return err
}

func (r *repository) MarkDefault(ctx context.Context, cardID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE saved_cards SET is_default = TRUE WHERE id = $1`, cardID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (r *repository) DeleteCard(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM saved_cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (r *repository) NextNumber(ctx context.Context) (string, error) {
	return sequence.Next(ctx, r.db, sequence.Transaction)
}

// LockQuotation row-locks the quotation so concurrent charges serialise.
func (r *repository) LockQuotation(ctx context.Context, id int64) (*ChargeTarget, error) {
	q, err := quotations.NewTxRepository(r.db).Lock(ctx, id)
	if err != nil {
		if errors.Is(err, quotations.ErrNotFound) {
			return nil, ErrQuotationNotFound
		}
		return nil, err
	}
	return &ChargeTarget{
		ID:               q.ID,
		Number:           q.Number,
		ClientID:         q.ClientID,
		Total:            q.Total,
		PaymentProcessed: q.PaymentProcessed,
	}, nil
}

func (r *repository) MarkQuotationPaid(ctx context.Context, id int64, method Method) error {
	err := quotations.NewTxRepository(r.db).MarkPaid(ctx, id, string(method))
	if errors.Is(err, quotations.ErrNotFound) {
		return ErrQuotationNotFound
	}
	return err
}

func nullable(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (r *repository) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO transactions (number, quotation_id, card_id, method, amount, status, idempotency_key, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		t.Number, t.QuotationID, t.CardID, t.Method, t.Amount, t.Status, nullable(t.IdempotencyKey), t.ClientIP,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (r *repository) FinishTransaction(ctx context.Context, t Transaction) error {
	var response any
	if len(t.GatewayResponse) > 0 {
		response = []byte(t.GatewayResponse)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions
		SET status = $2, authorization_code = $3, gateway_id = $4, gateway_response = $5,
		    error_message = $6, processed_at = $7
		WHERE id = $1`,
		t.ID, t.Status, t.AuthorizationCode, t.GatewayID, response, t.ErrorMessage, t.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

const transactionColumns = `id, number, quotation_id, card_id, method, amount, status, authorization_code, gateway_id,
	gateway_response, error_message, COALESCE(idempotency_key, ''), client_ip, created_at, processed_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var response []byte
	err := row.Scan(&t.ID, &t.Number, &t.QuotationID, &t.CardID, &t.Method, &t.Amount, &t.Status,
		&t.AuthorizationCode, &t.GatewayID, &response, &t.ErrorMessage, &t.IdempotencyKey, &t.ClientIP,
		&t.CreatedAt, &t.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if len(response) > 0 {
		t.GatewayResponse = response
	}
	return &t, nil
}

func (r *repository) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key))
}

func (r *repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.QuotationID > 0 {
		args = append(args, filter.QuotationID)
		where += fmt.Sprintf(` AND quotation_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}
