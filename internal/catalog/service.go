package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/solarquote/cotizador/internal/platform/cache"
	"github.com/solarquote/cotizador/internal/platform/httpx"
	"github.com/solarquote/cotizador/internal/shared"
)

const maxListLimit = 100

// ErrInvalidProduct wraps product validation failures.
var ErrInvalidProduct = errors.New("invalid product")

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog reads and inventory writes.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds a Service. cache and audit may be nil.
func NewService(repo Repository, c *cache.JSONCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, audit: audit, logger: logger}
}

// ListCategories returns all inventory categories.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// ListProducts returns at most 100 inventory products.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.ListProducts(ctx, filter)
}

// GetProduct returns one inventory product.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct assigns the next PROD code and stores the product.
func (s *Service) CreateProduct(ctx context.Context, req ProductRequest) (*Product, error) {
	p, err := req.toProduct()
	if err != nil {
		return nil, err
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		code, err := repo.NextProductCode(ctx)
		if err != nil {
			return err
		}
		p.Code = code
		id, err = repo.CreateProduct(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.record(ctx, "product.created", strconv.FormatInt(id, 10), map[string]any{"code": p.Code})
	return s.repo.GetProduct(ctx, id)
}

// UpdateProduct replaces the editable fields of a product. The code never changes.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req ProductRequest) (*Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := req.toProduct()
	if err != nil {
		return nil, err
	}
	p.ID = existing.ID
	p.Code = existing.Code
	if req.MinStock == nil {
		p.MinStock = existing.MinStock
	}
	if req.Active == nil {
		p.Active = existing.Active
	}
	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return s.repo.GetProduct(ctx, id)
}

// AdjustStock applies a batch of stock deltas atomically. Resulting stock is
// clamped at zero. When any product is missing nothing is applied.
func (s *Service) AdjustStock(ctx context.Context, adjustments []StockAdjustment) ([]StockChange, error) {
	if len(adjustments) == 0 {
		return nil, fmt.Errorf("%w: at least one adjustment required", httpx.ErrValidation)
	}

	// Lock rows in id order so concurrent batches cannot deadlock.
	order := make([]int64, 0, len(adjustments))
	seen := make(map[int64]bool, len(adjustments))
	for _, adj := range adjustments {
		if adj.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product_id must be positive", httpx.ErrValidation)
		}
		if !seen[adj.ProductID] {
			seen[adj.ProductID] = true
			order = append(order, adj.ProductID)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	changes := make([]StockChange, 0, len(adjustments))
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current := make(map[int64]*Product, len(order))
		for _, id := range order {
			p, err := repo.LockProduct(ctx, id)
			if err != nil {
				return fmt.Errorf("product %d: %w", id, err)
			}
			current[id] = p
		}
		for _, adj := range adjustments {
			p := current[adj.ProductID]
			next := p.Stock + adj.Delta
			if next < 0 {
				next = 0
			}
			if err := repo.SetStock(ctx, p.ID, next); err != nil {
				return err
			}
			changes = append(changes, StockChange{ProductID: p.ID, Name: p.Name, Previous: p.Stock, Current: next})
			p.Stock = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range changes {
		s.record(ctx, "product.stock_adjusted", strconv.FormatInt(c.ProductID, 10), map[string]any{
			"previous": c.Previous,
			"current":  c.Current,
		})
	}
	return changes, nil
}

// ListSolarProducts returns active solar catalog items, optionally by category.
func (s *Service) ListSolarProducts(ctx context.Context, category SolarCategory) ([]SolarProduct, error) {
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", httpx.ErrValidation, category)
	}
	key, err := s.cache.Key(ctx, "solar", string(category))
	if err != nil {
		s.logger.Warn("catalog cache key", slog.Any("error", err))
		return s.repo.ListSolarProducts(ctx, category)
	}
	var out []SolarProduct
	err = s.cache.Fetch(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListSolarProducts(ctx, category)
	})
	return out, err
}

// SolarProductsByID loads the given solar products uncached, keyed by id.
func (s *Service) SolarProductsByID(ctx context.Context, ids []int64) (map[int64]SolarProduct, error) {
	items, err := s.repo.GetSolarProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]SolarProduct, len(items))
	for _, p := range items {
		out[p.ID] = p
	}
	return out, nil
}

// ListPaymentMethods returns the visible payment methods in display order.
func (s *Service) ListPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	key, err := s.cache.Key(ctx, "payment_methods")
	if err != nil {
		s.logger.Warn("catalog cache key", slog.Any("error", err))
		return s.repo.ListPaymentMethods(ctx)
	}
	var out []PaymentMethod
	err = s.cache.Fetch(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListPaymentMethods(ctx)
	})
	return out, err
}

// InvalidateCache drops cached catalog listings.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

func (s *Service) record(ctx context.Context, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "product", EntityID: id, Meta: meta}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (req ProductRequest) toProduct() (Product, error) {
	if req.Price.IsNegative() {
		return Product{}, fmt.Errorf("%w: %w", ErrInvalidProduct, httpx.FieldErrors{"price": "must be greater than or equal to 0"})
	}
	if req.Stock < 0 {
		return Product{}, fmt.Errorf("%w: %w", ErrInvalidProduct, httpx.FieldErrors{"stock": "must be greater than or equal to 0"})
	}
	p := Product{
		Name:        strings.TrimSpace(req.Name),
		CategoryID:  req.CategoryID,
		Description: req.Description,
		Price:       req.Price.Round(2),
		Stock:       req.Stock,
		MinStock:    5,
		Active:      true,
	}
	if req.MinStock != nil {
		p.MinStock = *req.MinStock
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	return p, nil
}
