package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solarquote/cotizador/internal/platform/db"
	"github.com/solarquote/cotizador/internal/sequence"
)

var (
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrCategoryNotFound indicates the referenced category does not exist.
	ErrCategoryNotFound = errors.New("category not found")
)

// Repository persists catalog data.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextProductCode(ctx context.Context) (string, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	LockProduct(ctx context.Context, id int64) (*Product, error)
	CreateProduct(ctx context.Context, p Product) (int64, error)
	UpdateProduct(ctx context.Context, p Product) error
	SetStock(ctx context.Context, id int64, stock int) error
	ListSolarProducts(ctx context.Context, category SolarCategory) ([]SolarProduct, error)
	GetSolarProducts(ctx context.Context, ids []int64) ([]SolarProduct, error)
	ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error)
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

func (r *repository) NextProductCode(ctx context.Context) (string, error) {
	return sequence.Next(ctx, r.db, sequence.Product)
}

func (r *repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, active FROM product_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const productSelect = `
	SELECT p.id, p.code, p.name, p.category_id, c.name, p.description, p.price, p.stock,
	       p.min_stock, p.active, p.created_at, p.updated_at
	FROM products p
	JOIN product_categories c ON c.id = p.category_id`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID, &p.CategoryName, &p.Description, &p.Price,
		&p.Stock, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	var conditions []string
	var args []any
	if filter.ActiveOnly {
		conditions = append(conditions, "p.active")
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		conditions = append(conditions, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(p.name ILIKE $%d OR p.code ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`%s%s ORDER BY p.name LIMIT $%d OFFSET $%d`, productSelect, where, len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (r *repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return scanProduct(r.db.QueryRow(ctx, productSelect+` WHERE p.id = $1`, id))
}

func (r *repository) LockProduct(ctx context.Context, id int64) (*Product, error) {
	return scanProduct(r.db.QueryRow(ctx, productSelect+` WHERE p.id = $1 FOR UPDATE OF p`, id))
}

func (r *repository) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO products (code, name, category_id, description, price, stock, min_stock, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		p.Code, p.Name, p.CategoryID, p.Description, p.Price, p.Stock, p.MinStock, p.Active,
	).Scan(&id)
	if err != nil && db.IsForeignKeyViolation(err) {
		return 0, ErrCategoryNotFound
	}
	return id, err
}

func (r *repository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET name = $2, category_id = $3, description = $4, price = $5, stock = $6,
		    min_stock = $7, active = $8, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.CategoryID, p.Description, p.Price, p.Stock, p.MinStock, p.Active,
	)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrCategoryNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *repository) SetStock(ctx context.Context, id int64, stock int) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

const solarSelect = `
	SELECT id, sku, name, category, description, power, attributes, price, stock, active, featured
	FROM solar_products`

func scanSolarRows(rows pgx.Rows) ([]SolarProduct, error) {
	defer rows.Close()
	var out []SolarProduct
	for rows.Next() {
		var p SolarProduct
		var attrs []byte
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Description, &p.Power, &attrs,
			&p.Price, &p.Stock, &p.Active, &p.Featured); err != nil {
			return nil, err
		}
		p.Attributes = attrs
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) ListSolarProducts(ctx context.Context, category SolarCategory) ([]SolarProduct, error) {
	query := solarSelect + ` WHERE active`
	args := []any{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, category)
	}
	rows, err := r.db.Query(ctx, query+` ORDER BY featured DESC, category, name`, args...)
	if err != nil {
		return nil, err
	}
	return scanSolarRows(rows)
}

func (r *repository) GetSolarProducts(ctx context.Context, ids []int64) ([]SolarProduct, error) {
	rows, err := r.db.Query(ctx, solarSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return scanSolarRows(rows)
}

func (r *repository) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, transfer_details, icon, sort_order, visible
		FROM payment_methods
		WHERE visible
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentMethod
	for rows.Next() {
		var m PaymentMethod
		var details []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &details, &m.Icon, &m.SortOrder, &m.Visible); err != nil {
			return nil, err
		}
		m.TransferDetails = details
		out = append(out, m)
	}
	return out, rows.Err()
}
