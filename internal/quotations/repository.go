package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarquote/cotizador/internal/platform/db"
	"github.com/solarquote/cotizador/internal/sequence"
)

// NumberConstraint is the unique constraint on quotation numbers.
const NumberConstraint = "quotations_number_key"

var (
	// ErrNotFound indicates the quotation does not exist.
	ErrNotFound = errors.New("quotation not found")
	// ErrLineNotFound indicates the line does not belong to the quotation.
	ErrLineNotFound = errors.New("quotation line not found")
	// ErrProductNotFound indicates a referenced product is missing or inactive.
	ErrProductNotFound = errors.New("product not found")
	// ErrClientNotFound indicates the referenced client is missing.
	ErrClientNotFound = errors.New("client not found")
)

// Repository persists quotations and their lines.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextNumber(ctx context.Context) (string, error)
	ClientExists(ctx context.Context, id int64) (bool, error)
	ProductSnapshot(ctx context.Context, catalog Catalog, id int64) (*ProductSnapshot, error)
	Insert(ctx context.Context, q Quotation) (int64, error)
	InsertLine(ctx context.Context, l Line) (int64, error)
	UpdateLine(ctx context.Context, l Line) error
	DeleteLine(ctx context.Context, quotationID, lineID int64) error
	GetLine(ctx context.Context, quotationID, lineID int64) (*Line, error)
	ListLines(ctx context.Context, quotationID int64) ([]Line, error)
	Lock(ctx context.Context, id int64) (*Quotation, error)
	UpdateTotals(ctx context.Context, id int64, t Totals) error
	UpdateStatus(ctx context.Context, id int64, status Status, sentAt *time.Time) error
	MarkPaid(ctx context.Context, id int64, method string) error
	SetPDF(ctx context.Context, id int64, path string, at time.Time) error
	Get(ctx context.Context, id int64) (*Quotation, error)
	List(ctx context.Context, filter ListFilter) ([]Quotation, int, error)
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a pool-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// NewTxRepository binds the repository to an open transaction.
func NewTxRepository(tx db.DBTX) Repository {
	return &repository{db: tx}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx})
	})
}

func (r *repository) NextNumber(ctx context.Context) (string, error) {
	return sequence.Next(ctx, r.db, sequence.Quotation)
}

func (r *repository) ClientExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) ProductSnapshot(ctx context.Context, catalog Catalog, id int64) (*ProductSnapshot, error) {
	var query string
	switch catalog {
	case CatalogInventory:
		query = `SELECT name, code, description, price, active FROM products WHERE id = $1`
	case CatalogSolar:
		query = `SELECT name, sku, description, price, active FROM solar_products WHERE id = $1`
	default:
		return nil, fmt.Errorf("unknown catalog %q", catalog)
	}
	var snap ProductSnapshot
	err := r.db.QueryRow(ctx, query, id).Scan(&snap.Name, &snap.SKU, &snap.Description, &snap.Price, &snap.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (r *repository) Insert(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotations (number, uuid, client_id, source, status, valid_until,
			subtotal, tax, manual_discount, total, notes, comments, technical_snapshot,
			client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		q.Number, q.UUID, q.ClientID, q.Source, q.Status, q.ValidUntil,
		q.Subtotal, q.Tax, q.ManualDiscount, q.Total, q.Notes, q.Comments, nullJSON(q.TechnicalSnapshot),
		q.ClientIP, q.UserAgent,
	).Scan(&id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return 0, ErrClientNotFound
		}
		return 0, err
	}
	return id, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (r *repository) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotation_lines (quotation_id, catalog, product_id, product_name, product_sku,
			product_description, quantity, unit_price, discount_percent, subtotal, line_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		l.QuotationID, l.Catalog, l.ProductID, l.ProductName, l.ProductSKU,
		l.ProductDescription, l.Quantity, l.UnitPrice, l.DiscountPercent, l.Subtotal, l.LineOrder,
	).Scan(&id)
	return id, err
}

func (r *repository) UpdateLine(ctx context.Context, l Line) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotation_lines
		SET quantity = $3, unit_price = $4, discount_percent = $5, subtotal = $6
		WHERE id = $1 AND quotation_id = $2`,
		l.ID, l.QuotationID, l.Quantity, l.UnitPrice, l.DiscountPercent, l.Subtotal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *repository) DeleteLine(ctx context.Context, quotationID, lineID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quotation_lines WHERE id = $1 AND quotation_id = $2`, lineID, quotationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

const lineColumns = `id, quotation_id, catalog, product_id, product_name, product_sku, product_description,
	quantity, unit_price, discount_percent, subtotal, line_order`

func scanLine(row pgx.Row) (*Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.QuotationID, &l.Catalog, &l.ProductID, &l.ProductName, &l.ProductSKU,
		&l.ProductDescription, &l.Quantity, &l.UnitPrice, &l.DiscountPercent, &l.Subtotal, &l.LineOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLineNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *repository) GetLine(ctx context.Context, quotationID, lineID int64) (*Line, error) {
	return scanLine(r.db.QueryRow(ctx,
		`SELECT `+lineColumns+` FROM quotation_lines WHERE id = $1 AND quotation_id = $2`, lineID, quotationID))
}

func (r *repository) ListLines(ctx context.Context, quotationID int64) ([]Line, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+lineColumns+` FROM quotation_lines WHERE quotation_id = $1 ORDER BY line_order, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

const quotationColumns = `q.id, q.number, q.uuid::text, q.client_id, TRIM(c.first_name || ' ' || c.last_name),
	q.source, q.status, q.valid_until, q.subtotal, q.tax, q.manual_discount, q.total, q.notes, q.comments,
	q.technical_snapshot, q.payment_processed, q.payment_method, q.pdf_path, q.pdf_generated_at, q.sent_at,
	q.client_ip, q.user_agent, q.created_at, q.updated_at`

const quotationFrom = ` FROM quotations q JOIN clients c ON c.id = q.client_id`

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	var snapshot []byte
	err := row.Scan(&q.ID, &q.Number, &q.UUID, &q.ClientID, &q.ClientName,
		&q.Source, &q.Status, &q.ValidUntil, &q.Subtotal, &q.Tax, &q.ManualDiscount, &q.Total, &q.Notes, &q.Comments,
		&snapshot, &q.PaymentProcessed, &q.PaymentMethod, &q.PDFPath, &q.PDFGeneratedAt, &q.SentAt,
		&q.ClientIP, &q.UserAgent, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(snapshot) > 0 {
		q.TechnicalSnapshot = snapshot
	}
	return &q, nil
}

// Lock reads the header with a row lock held until the transaction ends.
func (r *repository) Lock(ctx context.Context, id int64) (*Quotation, error) {
	return scanQuotation(r.db.QueryRow(ctx, `SELECT `+quotationColumns+quotationFrom+` WHERE q.id = $1 FOR UPDATE OF q`, id))
}

func (r *repository) UpdateTotals(ctx context.Context, id int64, t Totals) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations
		SET subtotal = $2, tax = $3, manual_discount = $4, total = $5, updated_at = NOW()
		WHERE id = $1`,
		id, t.Subtotal, t.Tax, t.ManualDiscount, t.Total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, sentAt *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations
		SET status = $2, sent_at = COALESCE($3, sent_at), updated_at = NOW()
		WHERE id = $1`,
		id, status, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) MarkPaid(ctx context.Context, id int64, method string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations
		SET payment_processed = TRUE, payment_method = $2, status = $3, updated_at = NOW()
		WHERE id = $1`,
		id, method, StatusApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetPDF(ctx context.Context, id int64, path string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE quotations SET pdf_path = $2, pdf_generated_at = $3 WHERE id = $1`, id, path, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	q, err := scanQuotation(r.db.QueryRow(ctx, `SELECT `+quotationColumns+quotationFrom+` WHERE q.id = $1`, id))
	if err != nil {
		return nil, err
	}
	q.Lines, err = r.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Quotation, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(` AND q.status = $%d`, len(args))
	}
	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		where += fmt.Sprintf(` AND q.client_id = $%d`, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(` AND (q.number ILIKE $%d OR c.first_name ILIKE $%d OR c.last_name ILIKE $%d)`,
			len(args), len(args), len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*)`+quotationFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY q.created_at DESC, q.id DESC LIMIT $%d OFFSET $%d`,
		quotationColumns, quotationFrom, where, len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrQuotationLocked
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
