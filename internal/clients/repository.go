package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarquote/cotizador/internal/platform/db"
)

var (
	// ErrNotFound indicates the client does not exist.
	ErrNotFound = errors.New("client not found")
	// ErrDuplicateTaxID indicates another client already uses the tax id.
	ErrDuplicateTaxID = errors.New("tax id already registered")
)

// Repository persists clients and their technical data.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, c Client) (int64, error)
	Get(ctx context.Context, id int64) (*Client, error)
	GetByTaxID(ctx context.Context, taxID string) (*Client, error)
	List(ctx context.Context, filter ListFilter) ([]Client, int, error)
	UpsertByTaxID(ctx context.Context, c Client) (*Client, bool, error)
	UpsertTechnicalData(ctx context.Context, td TechnicalData) (*TechnicalData, bool, error)
	GetTechnicalData(ctx context.Context, clientID int64) (*TechnicalData, error)
	AddAttachment(ctx context.Context, a Attachment) (int64, error)
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

const clientColumns = `id, first_name, last_name, tax_id, email, phone, region, address, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var taxID, email pgtype.Text
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &taxID, &email, &c.Phone, &c.Region, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.TaxID = taxID.String
	c.Email = email.String
	return &c, nil
}

func nullable(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (r *repository) Create(ctx context.Context, c Client) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO clients (first_name, last_name, tax_id, email, phone, region, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.FirstName, c.LastName, nullable(c.TaxID), nullable(c.Email), c.Phone, c.Region, c.Address,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateTaxID
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Client, error) {
	return scanClient(r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

func (r *repository) GetByTaxID(ctx context.Context, taxID string) (*Client, error) {
	return scanClient(r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE tax_id = $1`, taxID))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Client, int, error) {
	where := ""
	args := []any{}
	if filter.Search != "" {
		where = `WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR tax_id ILIKE $1 OR email ILIKE $1`
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM clients `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM clients %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		clientColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// UpsertByTaxID inserts c unless a client with the same tax id exists, in
// which case the stored client is returned untouched. The boolean reports
// whether a row was created.
func (r *repository) UpsertByTaxID(ctx context.Context, c Client) (*Client, bool, error) {
	if c.TaxID == "" {
		return nil, false, errors.New("clients: tax id required for upsert")
	}
	created, err := scanClient(r.db.QueryRow(ctx, `
		INSERT INTO clients (first_name, last_name, tax_id, email, phone, region, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tax_id) DO NOTHING
		RETURNING `+clientColumns,
		c.FirstName, c.LastName, c.TaxID, nullable(c.Email), c.Phone, c.Region, c.Address,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	existing, err := r.GetByTaxID(ctx, c.TaxID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

const technicalColumns = `id, client_id, roof_type, orientation, surface_m2, target_power_kw, avg_consumption_kwh, notes`

func scanTechnical(row pgx.Row) (*TechnicalData, error) {
	var td TechnicalData
	err := row.Scan(&td.ID, &td.ClientID, &td.RoofType, &td.Orientation, &td.SurfaceM2, &td.TargetPowerKW, &td.AvgConsumptionKWh, &td.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &td, nil
}

// UpsertTechnicalData keeps an existing record for the client when present.
func (r *repository) UpsertTechnicalData(ctx context.Context, td TechnicalData) (*TechnicalData, bool, error) {
	created, err := scanTechnical(r.db.QueryRow(ctx, `
		INSERT INTO technical_data (client_id, roof_type, orientation, surface_m2, target_power_kw, avg_consumption_kwh, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id) DO NOTHING
		RETURNING `+technicalColumns,
		td.ClientID, td.RoofType, td.Orientation, td.SurfaceM2, td.TargetPowerKW, td.AvgConsumptionKWh, td.Notes,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	existing, err := r.GetTechnicalData(ctx, td.ClientID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) GetTechnicalData(ctx context.Context, clientID int64) (*TechnicalData, error) {
	return scanTechnical(r.db.QueryRow(ctx, `SELECT `+technicalColumns+` FROM technical_data WHERE client_id = $1`, clientID))
}

func (r *repository) AddAttachment(ctx context.Context, a Attachment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO bill_attachments (technical_data_id, stored_path, original_name, size_bytes, mime_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		a.TechnicalDataID, a.StoredPath, a.OriginalName, a.SizeBytes, a.MimeType,
	).Scan(&id)
	return id, err
}
