package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarquote/cotizador/internal/clients"
	"github.com/solarquote/cotizador/internal/quotations"
)

// PDFDir is the directory under the media root holding rendered quotations.
const PDFDir = "quotations/pdf"

// QuotationStore loads quotations and records stored documents.
type QuotationStore interface {
	Get(ctx context.Context, id int64) (*quotations.Quotation, error)
	SetPDF(ctx context.Context, id int64, path string) error
}

// ClientSource loads the quotation recipient.
type ClientSource interface {
	Get(ctx context.Context, id int64) (*clients.Client, error)
}

// DocumentRenderer converts a document into PDF bytes.
type DocumentRenderer interface {
	Render(ctx context.Context, doc QuotationDocument) ([]byte, error)
}

// Observer is notified of every render attempt.
type Observer interface {
	PDFRendered(err error)
}

// GeneratorConfig wires a Generator.
type GeneratorConfig struct {
	Quotations QuotationStore
	Clients    ClientSource
	Renderer   DocumentRenderer
	Observer   Observer
	MediaRoot  string
	Company    string
	TaxRate    decimal.Decimal
	Location   *time.Location
	Logger     *slog.Logger
}

// Generator renders quotations and stores the resulting files.
type Generator struct {
	cfg GeneratorConfig
	now func() time.Time
}

// NewGenerator constructs a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{cfg: cfg, now: time.Now}
}

// Generate renders the PDF of quotation id.
func (g *Generator) Generate(ctx context.Context, id int64) ([]byte, *quotations.Quotation, error) {
	q, err := g.cfg.Quotations.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	client, err := g.cfg.Clients.Get(ctx, q.ClientID)
	if err != nil && !errors.Is(err, clients.ErrNotFound) {
		return nil, nil, fmt.Errorf("load client: %w", err)
	}
	doc := BuildQuotationDocument(q, client, DocumentOptions{
		Company:     g.cfg.Company,
		TaxRate:     g.cfg.TaxRate,
		GeneratedAt: g.now(),
		Location:    g.cfg.Location,
	})
	pdf, err := g.cfg.Renderer.Render(ctx, doc)
	if g.cfg.Observer != nil {
		g.cfg.Observer.PDFRendered(err)
	}
	if err != nil {
		return nil, nil, err
	}
	return pdf, q, nil
}

// Store renders quotation id, writes it under the media root and records the
// relative path on the quotation.
func (g *Generator) Store(ctx context.Context, id int64) (string, error) {
	pdf, q, err := g.Generate(ctx, id)
	if err != nil {
		return "", err
	}
	rel := filepath.ToSlash(filepath.Join(PDFDir, FileName(q.Number)))
	if err := writeAtomic(filepath.Join(g.cfg.MediaRoot, filepath.FromSlash(rel)), pdf); err != nil {
		return "", fmt.Errorf("store pdf: %w", err)
	}
	if err := g.cfg.Quotations.SetPDF(ctx, q.ID, rel); err != nil {
		return "", err
	}
	g.cfg.Logger.Info("quotation pdf stored", slog.String("number", q.Number), slog.String("path", rel))
	return rel, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileName is the download and storage name of a quotation PDF.
func FileName(number string) string {
	return "cotizacion_" + unsafeName.ReplaceAllString(number, "_") + ".pdf"
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".render-*.pdf")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
