package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Service coordinates client operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService builds a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Create registers a client. A tax id, when given, must be a valid RUT and
// not already registered.
func (s *Service) Create(ctx context.Context, req CreateClientRequest) (*Client, error) {
	c, err := req.toClient()
	if err != nil {
		return nil, err
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.logger.Info("client created", slog.Int64("client_id", id))
	return s.repo.Get(ctx, id)
}

// Get returns a client by id.
func (s *Service) Get(ctx context.Context, id int64) (*Client, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of clients and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Client, int, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.List(ctx, filter)
}

// Exists reports whether the client id is known.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (req CreateClientRequest) toClient() (Client, error) {
	c := Client{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     strings.TrimSpace(req.Phone),
		Region:    strings.TrimSpace(req.Region),
		Address:   strings.TrimSpace(req.Address),
	}
	if req.TaxID != "" {
		taxID, err := NormalizeTaxID(req.TaxID)
		if err != nil {
			return Client{}, err
		}
		c.TaxID = taxID
	}
	return c, nil
}
